package media

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LdDl/unmark/frame"
)

const infoJSON = `{
  "streams": [
    {
      "index": 0,
      "codec_name": "h264",
      "codec_type": "video",
      "width": 1280,
      "height": 720,
      "r_frame_rate": "30/1",
      "avg_frame_rate": "30000/1001",
      "duration": "10.010000",
      "bit_rate": "4500000",
      "nb_frames": "300"
    },
    {
      "index": 1,
      "codec_name": "aac",
      "codec_type": "audio",
      "bit_rate": "128000"
    }
  ],
  "format": {
    "duration": "10.010000",
    "bit_rate": "4650000"
  }
}`

func TestParseInfo(t *testing.T) {
	info, err := ParseInfo([]byte(infoJSON))
	require.NoError(t, err)
	assert.Equal(t, 1280, info.Width)
	assert.Equal(t, 720, info.Height)
	assert.InDelta(t, 29.97, info.FPS, 0.01)
	assert.Equal(t, "30000/1001", info.Rate)
	assert.Equal(t, 300, info.Frames)
	assert.Equal(t, int64(4500000), info.BitRate)
	assert.Equal(t, "h264", info.Codec)
	assert.True(t, info.HasAudio)
}

func TestParseInfoEstimatesFrames(t *testing.T) {
	data := `{"streams":[{"codec_type":"video","width":64,"height":48,"avg_frame_rate":"0/0","r_frame_rate":"25/1"}],
	"format":{"duration":"2.0","bit_rate":"800000"}}`
	info, err := ParseInfo([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, 25.0, info.FPS)
	assert.Equal(t, "25/1", info.Rate)
	assert.Equal(t, 50, info.Frames)
	// container rate is used when video is alone
	assert.Equal(t, int64(800000), info.BitRate)
	assert.False(t, info.HasAudio)
}

func TestParseInfoNoVideo(t *testing.T) {
	_, err := ParseInfo([]byte(`{"streams":[{"codec_type":"audio"}],"format":{}}`))
	assert.ErrorIs(t, err, ErrNoVideo)

	_, err = ParseInfo([]byte(`not json`))
	assert.Error(t, err)
}

func TestEncodeArgs(t *testing.T) {
	info := Info{Width: 640, Height: 360, FPS: 30, Rate: "30/1", BitRate: 2000000}
	args := encodeArgs("out.mp4", info, DefaultEncodeOptions())
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-f rawvideo -pix_fmt bgr24 -s 640x360 -r 30/1 -i -")
	assert.Contains(t, joined, "-b:v 2000000")
	assert.NotContains(t, joined, "-crf")
	assert.Equal(t, "out.mp4", args[len(args)-1])

	info.BitRate = 0
	info.Rate = ""
	args = encodeArgs("out.mp4", info, DefaultEncodeOptions())
	joined = strings.Join(args, " ")
	assert.Contains(t, joined, "-crf 18")
	assert.Contains(t, joined, "-r 30 ")
}

func TestDecodeArgs(t *testing.T) {
	args := decodeArgs("in.mov")
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-i in.mov")
	assert.Contains(t, joined, "-pix_fmt bgr24")
	assert.Equal(t, "-", args[len(args)-1])
}

func TestMuxArgs(t *testing.T) {
	args := muxArgs("video.mp4", "src.mp4", "out.mp4", true, "")
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-i video.mp4 -i src.mp4")
	assert.Contains(t, joined, "-map 1:a:0?")
	assert.Contains(t, joined, "-c:a copy")
	assert.Contains(t, joined, "+faststart")

	args = muxArgs("video.mkv", "src.mkv", "out.mkv", false, "aac")
	joined = strings.Join(args, " ")
	assert.NotContains(t, joined, "src.mkv")
	assert.NotContains(t, joined, "faststart")
	assert.Equal(t, "out.mkv", args[len(args)-1])
}

func TestLocatePrefersLocalDir(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"ffmpeg", "ffprobe"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, executable(name)), []byte("#!/bin/sh\n"), 0o755))
	}
	bin, err := Locate(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, executable("ffmpeg")), bin.FFmpeg)
	assert.Equal(t, filepath.Join(dir, executable("ffprobe")), bin.FFprobe)
}

func TestExecEmpty(t *testing.T) {
	_, err := Exec(context.Background())
	assert.Error(t, err)
}

func TestTailBuffer(t *testing.T) {
	tb := &tailBuffer{}
	tb.Write([]byte(strings.Repeat("a", maxStderr)))
	tb.Write([]byte("tail"))
	assert.Len(t, tb.String(), maxStderr)
	assert.True(t, strings.HasSuffix(tb.String(), "tail"))
}

func TestIsImage(t *testing.T) {
	assert.True(t, IsImage("a/b/photo.JPG"))
	assert.True(t, IsImage("x.tif"))
	assert.True(t, IsImage("x.webp"))
	assert.False(t, IsImage("clip.mp4"))
	assert.False(t, IsImage("noext"))

	for _, ext := range ImageExtensions {
		assert.True(t, CanWriteImage("out"+strings.ToUpper(ext)), ext)
	}
	assert.False(t, CanWriteImage("out.gif"))
	assert.False(t, CanWriteImage("out.mp4"))
}

func TestImageRoundTrip(t *testing.T) {
	f := frame.New(3, 2)
	for i := range f.Pix {
		f.Pix[i] = byte(i * 10)
	}
	dir := t.TempDir()
	for _, ext := range []string{".png", ".bmp", ".tiff"} {
		path := filepath.Join(dir, "nested", "img"+ext)
		require.NoError(t, WriteImage(path, f), ext)
		got, err := ReadImage(path)
		require.NoError(t, err, ext)
		assert.Equal(t, f.Pix, got.Pix, ext)
	}

	// lossy, only geometry is kept exactly
	path := filepath.Join(dir, "img.jpg")
	require.NoError(t, WriteImage(path, f))
	got, err := ReadImage(path)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Width)
	assert.Equal(t, 2, got.Height)
}

func TestWebpRoundTrip(t *testing.T) {
	f := frame.New(4, 3)
	for i := range f.Pix {
		f.Pix[i] = byte(i * 7)
	}
	path := filepath.Join(t.TempDir(), "nested", "img.webp")
	require.NoError(t, WriteImage(path, f))
	got, err := ReadImage(path)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Width)
	assert.Equal(t, 3, got.Height)
	// default webp output of OpenCV is lossless
	assert.Equal(t, f.Pix, got.Pix)
}

func TestWriteImageUnsupported(t *testing.T) {
	dir := t.TempDir()
	err := WriteImage(filepath.Join(dir, "x.gif"), frame.New(1, 1))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	_, err = os.Stat(filepath.Join(dir, "x.gif"))
	assert.True(t, os.IsNotExist(err))
}
