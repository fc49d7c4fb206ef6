package media

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrNoVideo is returned for inputs without a decodable video stream
var ErrNoVideo = errors.New("no video stream")

// Info describes the first video stream of a file
type Info struct {
	Width    int
	Height   int
	FPS      float64
	Rate     string // exact frame rate as reported, e.g. "30000/1001"
	Frames   int    // may be an estimate when the container doesn't store it
	Duration float64
	BitRate  int64 // video bit rate, zero when unknown
	Codec    string
	HasAudio bool
}

type infoStream struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
	RFrameRate   string `json:"r_frame_rate"`
	NbFrames     string `json:"nb_frames"`
	Duration     string `json:"duration"`
	BitRate      string `json:"bit_rate"`
}

type infoFormat struct {
	Duration string `json:"duration"`
	BitRate  string `json:"bit_rate"`
}

type infoOutput struct {
	Streams []infoStream `json:"streams"`
	Format  infoFormat   `json:"format"`
}

// Inspect reads stream metadata of a media file with ffprobe
func (b Binaries) Inspect(ctx context.Context, path string) (Info, error) {
	out, err := Exec(ctx, b.FFprobe,
		"-v", "error",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	)
	if err != nil {
		return Info{}, errors.Wrapf(err, "Can't inspect '%s'", path)
	}
	return ParseInfo([]byte(out))
}

// ParseInfo extracts Info from ffprobe JSON output
func ParseInfo(data []byte) (Info, error) {
	var out infoOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Info{}, errors.Wrap(err, "Can't parse ffprobe output")
	}
	info := Info{}
	found := false
	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if found {
				continue
			}
			found = true
			info.Width = s.Width
			info.Height = s.Height
			info.Codec = s.CodecName
			info.Rate = s.AvgFrameRate
			info.FPS = parseRate(s.AvgFrameRate)
			if info.FPS <= 0 {
				info.Rate = s.RFrameRate
				info.FPS = parseRate(s.RFrameRate)
			}
			info.Frames, _ = strconv.Atoi(s.NbFrames)
			info.Duration = parseFloat(s.Duration)
			info.BitRate, _ = strconv.ParseInt(s.BitRate, 10, 64)
		case "audio":
			info.HasAudio = true
		}
	}
	if !found || info.Width <= 0 || info.Height <= 0 {
		return Info{}, ErrNoVideo
	}
	if info.Duration <= 0 {
		info.Duration = parseFloat(out.Format.Duration)
	}
	if info.BitRate <= 0 && !info.HasAudio {
		// container rate is a fair estimate only when video is the sole stream
		info.BitRate, _ = strconv.ParseInt(out.Format.BitRate, 10, 64)
	}
	if info.Frames <= 0 && info.FPS > 0 && info.Duration > 0 {
		info.Frames = int(math.Round(info.Duration * info.FPS))
	}
	if info.FPS <= 0 {
		return Info{}, errors.Wrapf(ErrNoVideo, "unknown frame rate '%s'", info.Rate)
	}
	return info, nil
}

// parseRate parses "num/den" or a plain number
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return parseFloat(s)
	}
	n := parseFloat(num)
	d := parseFloat(den)
	if d == 0 {
		return 0
	}
	return n / d
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
