package main

import (
	"context"
	"flag"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	meeting "github.com/dorisoy/Dorisoy.Mediasoup-sub002"
	"github.com/dorisoy/Dorisoy.Mediasoup-sub002/pkg/codec"
	"github.com/dorisoy/Dorisoy.Mediasoup-sub002/pkg/logger"
)

// testPatternSource generates an I420 moving-bars pattern at the configured
// cadence, standing in for a camera.
type testPatternSource struct {
	width  int
	height int
	fps    uint32
	frame  []byte
	tick   int
	timer  *time.Ticker
}

func newTestPatternSource(width, height int, fps uint32) *testPatternSource {
	return &testPatternSource{
		width:  width,
		height: height,
		fps:    fps,
		frame:  make([]byte, codec.I420Size(width, height)),
		timer:  time.NewTicker(time.Second / time.Duration(fps)),
	}
}

func (s *testPatternSource) ReadFrame(ctx context.Context) (codec.RawVideoFrame, error) {
	select {
	case <-ctx.Done():
		return codec.RawVideoFrame{}, ctx.Err()
	case <-s.timer.C:
	}

	s.tick++
	ySize := s.width * s.height
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			s.frame[y*s.width+x] = byte((x + s.tick*4) * 255 / s.width)
		}
	}
	for i := ySize; i < len(s.frame); i++ {
		s.frame[i] = 128
	}
	return codec.RawVideoFrame{Data: s.frame, Width: s.width, Height: s.height}, nil
}

// toneSource generates a 440 Hz stereo sine at 48 kHz in 20 ms slices.
type toneSource struct {
	phase float64
	buf   []int16
	timer *time.Ticker
}

func newToneSource() *toneSource {
	return &toneSource{
		buf:   make([]int16, codec.OpusSamplesPerFrame*codec.OpusChannels),
		timer: time.NewTicker(time.Duration(codec.OpusFrameMs) * time.Millisecond),
	}
}

func (s *toneSource) ReadPCM(ctx context.Context) ([]int16, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.timer.C:
	}

	step := 2 * math.Pi * 440 / float64(codec.OpusClockRate)
	for i := 0; i < codec.OpusSamplesPerFrame; i++ {
		sample := int16(math.Sin(s.phase) * 8000)
		s.buf[2*i] = sample
		s.buf[2*i+1] = sample
		s.phase += step
	}
	return s.buf, nil
}

func main() {
	configPath := flag.String("config", "", "path to yaml config")
	flag.Parse()

	cfg := meeting.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = meeting.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
	}
	logger.SetLevel(cfg.LogLevel)
	mainLog := logger.NewLogger("main")

	client, err := meeting.New(cfg)
	if err != nil {
		log.Fatalf("create client: %v", err)
	}

	client.OnRemoteVideoFrame(func(consumerId string, i420 []byte, width, height int) {
		mainLog.Debugf("remote video frame from %s: %dx%d (%d bytes)", consumerId, width, height, len(i420))
	})
	client.OnRemoteAudioFrame(func(consumerId string, pcm []int16, samples int) {
		mainLog.Debugf("remote audio frame from %s: %d samples", consumerId, samples)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.Connect(ctx); err != nil {
		log.Fatalf("connect: %v", err)
	}
	client.OnRecvTransportFailed(func() {
		if err := client.RecreateRecvTransport(context.Background()); err != nil {
			mainLog.WithError(err).Error("recv transport recreation failed")
		}
	})

	if err := client.ProduceVideo(ctx, newTestPatternSource(cfg.Video.Width, cfg.Video.Height, cfg.Video.FPS)); err != nil {
		mainLog.WithError(err).Error("produce video failed")
	}
	if err := client.ProduceAudio(ctx, newToneSource()); err != nil {
		mainLog.WithError(err).Error("produce audio failed")
	}

	<-ctx.Done()
	if err := client.Close(); err != nil {
		mainLog.WithError(err).Warn("close reported errors")
	}
}
