package audio

import "fmt"

// Format describes signed 16-bit little-endian PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns e.g. "16000Hz mono".
func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// BytesPerSecond is the PCM data rate of f.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Convert re-encodes pcm from one format to another. Only mono and stereo
// are supported; any other channel count is passed through unchanged.
// A trailing odd byte is dropped.
func Convert(pcm []byte, from, to Format) []byte {
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	if from == to || len(pcm) == 0 {
		return pcm
	}
	if from.Channels == 2 && to.Channels == 1 {
		pcm = downmix(pcm)
		from.Channels = 1
	}
	if from.Channels == 1 || from.Channels == 2 {
		pcm = resample(pcm, from.Channels, from.SampleRate, to.SampleRate)
	}
	if from.Channels == 1 && to.Channels == 2 {
		pcm = upmix(pcm)
	}
	return pcm
}

func sample(pcm []byte, i int) int32 {
	return int32(int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8))
}

func putSample(out []byte, i int, v int32) {
	v = max(-32768, min(32767, v))
	out[2*i] = byte(v)
	out[2*i+1] = byte(v >> 8)
}

// downmix averages left and right.
func downmix(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		putSample(out, i, (sample(pcm, 2*i)+sample(pcm, 2*i+1))/2)
	}
	return out
}

// upmix duplicates each mono sample into both channels.
func upmix(pcm []byte) []byte {
	n := len(pcm) / 2
	out := make([]byte, n*4)
	for i := range n {
		s := sample(pcm, i)
		putSample(out, 2*i, s)
		putSample(out, 2*i+1, s)
	}
	return out
}

// resample converts interleaved PCM between rates with linear
// interpolation.
func resample(pcm []byte, channels, src, dst int) []byte {
	if src <= 0 || dst <= 0 || src == dst {
		return pcm
	}
	srcFrames := len(pcm) / (2 * channels)
	dstFrames := int(int64(srcFrames) * int64(dst) / int64(src))
	out := make([]byte, dstFrames*2*channels)
	ratio := float64(src) / float64(dst)

	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := min(idx+1, srcFrames-1)
		for c := range channels {
			s0 := float64(sample(pcm, idx*channels+c))
			s1 := float64(sample(pcm, next*channels+c))
			putSample(out, i*channels+c, int32(s0+(s1-s0)*frac))
		}
	}
	return out
}
