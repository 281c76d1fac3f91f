//go:build !ci

package sound

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/wav"
)

const sampleRate = beep.SampleRate(44100)

var standardFormat = beep.Format{
	SampleRate:  sampleRate,
	NumChannels: 2,
	Precision:   4,
}

// 内置提示音：频率与时长
var builtinTones = map[Cue]struct {
	freq float64
	dur  time.Duration
}{
	CueMessage:      {880, 80 * time.Millisecond},
	CueConnected:    {660, 120 * time.Millisecond},
	CueDisconnected: {330, 200 * time.Millisecond},
}

// Player 提示音播放器，Init 失败时静默
type Player struct {
	mu      sync.RWMutex
	buffers map[Cue]*beep.Buffer
	enabled bool
}

func NewPlayer() *Player {
	return &Player{buffers: make(map[Cue]*beep.Buffer)}
}

// Init 初始化扬声器并加载 dir 下的音频文件，缺失的提示音使用内置音
func (p *Player) Init(dir string) error {
	// 较小的缓冲降低延迟
	if err := speaker.Init(sampleRate, sampleRate.N(time.Second/10)); err != nil {
		return fmt.Errorf("failed to initialize speaker: %w", err)
	}

	buffers, err := loadDir(dir)
	if err != nil {
		return err
	}
	for _, cue := range Cues {
		if _, ok := buffers[cue]; !ok {
			t := builtinTones[cue]
			buffers[cue] = tone(t.freq, t.dur)
		}
	}

	p.mu.Lock()
	p.buffers = buffers
	p.enabled = true
	p.mu.Unlock()
	return nil
}

// loadDir 读取目录下的 mp3/wav，目录不存在不算错误
func loadDir(dir string) (map[Cue]*beep.Buffer, error) {
	buffers := make(map[Cue]*beep.Buffer)

	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return buffers, nil
		}
		return nil, fmt.Errorf("failed to read sound directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() {
			continue
		}
		name := file.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".mp3" && ext != ".wav" {
			continue
		}

		buf, err := loadFile(filepath.Join(dir, name), ext)
		if err != nil {
			// 单个文件损坏不影响其他
			continue
		}
		buffers[Cue(strings.TrimSuffix(name, filepath.Ext(name)))] = buf
	}
	return buffers, nil
}

func loadFile(path, ext string) (*beep.Buffer, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var streamer beep.StreamSeekCloser
	var format beep.Format
	switch ext {
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	default:
		streamer, format, err = wav.Decode(f)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = streamer.Close() }()

	var resampled beep.Streamer = streamer
	if format.SampleRate != sampleRate {
		resampled = beep.Resample(4, format.SampleRate, sampleRate, streamer)
	}

	buffer := beep.NewBuffer(standardFormat)
	buffer.Append(resampled)
	return buffer, nil
}

// tone 生成带淡出的正弦波
func tone(freq float64, dur time.Duration) *beep.Buffer {
	total := sampleRate.N(dur)
	pos := 0
	sine := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if pos >= total {
			return 0, false
		}
		n := 0
		for i := range samples {
			if pos >= total {
				break
			}
			fade := 1 - float64(pos)/float64(total)
			v := 0.3 * fade * math.Sin(2*math.Pi*freq*float64(pos)/float64(sampleRate))
			samples[i] = [2]float64{v, v}
			pos++
			n++
		}
		return n, true
	})

	buffer := beep.NewBuffer(standardFormat)
	buffer.Append(sine)
	return buffer
}

// Play 播放提示音，未初始化或未知提示音时忽略
func (p *Player) Play(cue Cue) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.enabled {
		return
	}
	buffer, ok := p.buffers[cue]
	if !ok {
		return
	}
	speaker.Play(buffer.Streamer(0, buffer.Len()))
}

func (p *Player) Close() {
	p.mu.Lock()
	p.enabled = false
	p.mu.Unlock()
}
