// Package meeting glues the signaling channel, the capability-negotiated
// device, the send/recv transports and the codec pipeline into one
// conference session for a non-browser host.
package meeting

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pion/rtp"

	"github.com/dorisoy/Dorisoy.Mediasoup-sub002/pkg/codec"
	"github.com/dorisoy/Dorisoy.Mediasoup-sub002/pkg/logger"
	"github.com/dorisoy/Dorisoy.Mediasoup-sub002/pkg/rtc"
	"github.com/dorisoy/Dorisoy.Mediasoup-sub002/pkg/signaling"
)

// VideoSource supplies raw I420 frames at the capture cadence. ReadFrame
// blocks until the next frame or ctx is done.
type VideoSource interface {
	ReadFrame(ctx context.Context) (codec.RawVideoFrame, error)
}

// AudioSource supplies interleaved 48 kHz stereo PCM in arbitrary slice
// sizes; the pipeline frames it into 20 ms Opus packets.
type AudioSource interface {
	ReadPCM(ctx context.Context) ([]int16, error)
}

// Client is one peer's session against the SFU.
type Client struct {
	cfg Config

	mu            sync.Mutex
	sig           *signaling.Client
	device        *rtc.Device
	send          *rtc.SendTransport
	recv          *rtc.RecvTransport
	decoder       *rtc.RtpMediaDecoder
	videoEnc      *codec.VideoEncoder
	audioEnc      *codec.AudioEncoder
	produceWg     sync.WaitGroup
	sessionCtx    context.Context
	cancel        context.CancelFunc
	recvAnnounced bool
	closed        bool

	onRecvFailed func()

	log logger.Logger
}

type joinRequest struct {
	RoomId string `json:"roomId"`
	PeerId string `json:"peerId"`
}

type createTransportRequest struct {
	Direction string `json:"direction"`
}

type connectTransportRequest struct {
	TransportId    string             `json:"transportId"`
	DtlsParameters rtc.DtlsParameters `json:"dtlsParameters"`
}

type produceRequest struct {
	TransportId   string            `json:"transportId"`
	Kind          rtc.MediaKind     `json:"kind"`
	RtpParameters rtc.RtpParameters `json:"rtpParameters"`
}

type produceResponse struct {
	Id string `json:"id"`
}

type consumerNotification struct {
	Id            string            `json:"id"`
	ProducerId    string            `json:"producerId"`
	Kind          rtc.MediaKind     `json:"kind"`
	RtpParameters rtc.RtpParameters `json:"rtpParameters"`
}

type consumerClosedNotification struct {
	ConsumerId string `json:"consumerId"`
}

// New builds an unconnected client.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		cfg:     cfg,
		device:  rtc.NewDevice(codec.MimeTypeAvailable),
		decoder: rtc.NewRtpMediaDecoder(),
		log:     logger.NewLogger("meeting"),
	}, nil
}

// OnRemoteVideoFrame registers the decoded remote video sink. Set before
// Connect.
func (c *Client) OnRemoteVideoFrame(fn rtc.OnDecodedVideoFunc) {
	c.decoder.OnDecodedVideoFrame(fn)
}

// OnRemoteAudioFrame registers the decoded remote audio sink.
func (c *Client) OnRemoteAudioFrame(fn rtc.OnDecodedAudioFunc) {
	c.decoder.OnDecodedAudioFrame(fn)
}

// OnRecvTransportFailed registers the handler for a receive transport
// entering the failed state. The usual reaction is RecreateRecvTransport.
func (c *Client) OnRecvTransportFailed(fn func()) {
	c.mu.Lock()
	c.onRecvFailed = fn
	c.mu.Unlock()
}

// Connect joins the room: loads router capabilities into the device, creates
// both transports from server-supplied parameters and completes their DTLS
// handshakes.
// The lock is never held across a signaling round trip: a server push
// arriving mid-connect takes it on the notification goroutine, and reply
// delivery must stay unblocked.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return rtc.ErrTransportClosed
	}
	c.sessionCtx, c.cancel = context.WithCancel(context.Background())
	c.mu.Unlock()

	sig, err := signaling.Dial(ctx, c.cfg.ServerURL)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.sig = sig
	c.mu.Unlock()
	sig.OnNotification(c.handleNotification)

	if err := sig.Invoke(ctx, "join", joinRequest{RoomId: c.cfg.RoomId, PeerId: c.cfg.PeerId}, nil); err != nil {
		return err
	}

	var routerCaps rtc.RtpCapabilities
	if err := sig.Invoke(ctx, "getRouterRtpCapabilities", nil, &routerCaps); err != nil {
		return err
	}
	if err := c.device.Load(routerCaps); err != nil {
		return err
	}

	videoCodec := c.cfg.VideoCodecType()
	if err := c.device.SelectVideoCodec(videoCodec); err != nil {
		if !errors.Is(err, rtc.ErrCodecUnavailable) {
			return err
		}
		c.log.Warnf("%s not usable in this session, falling back to VP8", videoCodec)
		videoCodec = codec.VideoCodecVP8
	}

	send, err := c.setupSendTransport(ctx, videoCodec)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.send = send
	c.mu.Unlock()

	recv, err := c.setupRecvTransport(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.recv = recv
	c.mu.Unlock()

	c.decoder.OnFrameLost(func(consumerId string) {
		c.mu.Lock()
		recv := c.recv
		c.mu.Unlock()
		if recv == nil {
			return
		}
		if err := recv.RequestKeyFrame(consumerId); err != nil {
			c.log.WithError(err).Debugf("keyframe request for %s failed", consumerId)
		}
	})

	c.log.Info("session connected")
	return nil
}

func (c *Client) setupSendTransport(ctx context.Context, videoCodec codec.VideoCodecType) (*rtc.SendTransport, error) {
	var info rtc.TransportInfo
	if err := c.sig.Invoke(ctx, "createWebRtcTransport", createTransportRequest{Direction: "send"}, &info); err != nil {
		return nil, err
	}
	send, err := rtc.NewSendTransport(c.device, info, videoCodec)
	if err != nil {
		return nil, err
	}
	send.OnKeyFrameRequested(func() {
		c.mu.Lock()
		enc := c.videoEnc
		c.mu.Unlock()
		if enc != nil {
			enc.ForceKeyFrame()
		}
	})
	send.OnTargetBitrateChanged(func(bitrateBps uint64) {
		c.mu.Lock()
		enc := c.videoEnc
		c.mu.Unlock()
		if enc == nil {
			return
		}
		if err := enc.SetTargetBitrateKbps(int(bitrateBps / 1000)); err != nil {
			c.log.WithError(err).Warn("bitrate update failed")
		}
	})
	if err := send.Connect(); err != nil {
		send.Close()
		return nil, err
	}
	if err := c.connectTransport(ctx, send.Transport); err != nil {
		send.Close()
		return nil, err
	}
	return send, nil
}

func (c *Client) setupRecvTransport(ctx context.Context) (*rtc.RecvTransport, error) {
	var info rtc.TransportInfo
	if err := c.sig.Invoke(ctx, "createWebRtcTransport", createTransportRequest{Direction: "recv"}, &info); err != nil {
		return nil, err
	}
	recv, err := rtc.NewRecvTransport(c.device, info)
	if err != nil {
		return nil, err
	}
	recv.OnVideoRtpPacket(c.handleVideoPacket)
	recv.OnAudioRtpPacket(c.handleAudioPacket)
	recv.OnFailed(func() {
		c.log.Warn("recv transport failed, recreation required")
		c.mu.Lock()
		fn := c.onRecvFailed
		c.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
	if err := recv.Connect(); err != nil {
		recv.Close()
		return nil, err
	}
	// the DTLS announce waits for the first consume, the engine has no local
	// description before that
	return recv, nil
}

func (c *Client) connectTransport(ctx context.Context, t *rtc.Transport) error {
	dtls, err := t.LocalDtlsParameters()
	if err != nil {
		return err
	}
	return c.sig.Invoke(ctx, "connectWebRtcTransport", connectTransportRequest{
		TransportId:    t.Id(),
		DtlsParameters: dtls,
	}, nil)
}

// ProduceVideo starts the capture-encode-send loop for the video source.
// The loop runs until ctx is done or the client closes.
func (c *Client) ProduceVideo(ctx context.Context, source VideoSource) error {
	c.mu.Lock()
	if c.send == nil || c.closed {
		c.mu.Unlock()
		return rtc.ErrTransportClosed
	}
	send := c.send

	enc := codec.NewVideoEncoder(codec.VideoEncoderConfig{
		Codec:       send.VideoCodec(),
		Width:       c.cfg.Video.Width,
		Height:      c.cfg.Video.Height,
		FPS:         int(c.cfg.Video.FPS),
		BitrateKbps: c.cfg.Video.BitrateKbps,
		Threads:     c.cfg.Video.Threads,
	})
	enc.OnFrameEncoded(func(frame codec.EncodedFrame) {
		if err := send.SendVideoFrame(frame); err != nil {
			c.log.WithError(err).Debug("video frame send failed")
		}
	})
	if err := enc.Init(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.videoEnc = enc
	send.SetVideoFPS(c.cfg.Video.FPS)
	c.mu.Unlock()

	params, err := send.ProducerRtpParameters(rtc.MediaKindVideo)
	if err != nil {
		return err
	}
	var resp produceResponse
	if err := c.sig.Invoke(ctx, "produce", produceRequest{
		TransportId:   send.Id(),
		Kind:          rtc.MediaKindVideo,
		RtpParameters: params,
	}, &resp); err != nil {
		return err
	}
	c.log.Infof("video producer %s created", resp.Id)

	runCtx, cancel := c.produceContext(ctx)
	c.produceWg.Add(1)
	go func() {
		defer c.produceWg.Done()
		defer cancel()
		for {
			frame, err := source.ReadFrame(runCtx)
			if err != nil {
				if runCtx.Err() == nil {
					c.log.WithError(err).Warn("video source ended")
				}
				return
			}
			if err := c.encodeVideoFrame(frame); err != nil {
				if errors.Is(err, codec.ErrDisposed) {
					// codec switch in flight, the replacement takes the
					// next frame
					continue
				}
				c.log.WithError(err).Warn("video encode failed")
			}
		}
	}()
	return nil
}

// encodeVideoFrame hands one frame to whichever encoder is current, so the
// capture loop survives the encoder swap a codec switch performs.
func (c *Client) encodeVideoFrame(frame codec.RawVideoFrame) error {
	c.mu.Lock()
	enc := c.videoEnc
	c.mu.Unlock()
	if enc == nil {
		return codec.ErrDisposed
	}
	return enc.Encode(frame)
}

// ProduceAudio starts the capture-encode-send loop for the audio source.
func (c *Client) ProduceAudio(ctx context.Context, source AudioSource) error {
	c.mu.Lock()
	if c.send == nil || c.closed {
		c.mu.Unlock()
		return rtc.ErrTransportClosed
	}
	send := c.send

	enc, err := codec.NewAudioEncoder()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	enc.OnFrameEncoded(func(packet []byte) {
		if err := send.SendAudioFrame(packet); err != nil {
			c.log.WithError(err).Debug("audio frame send failed")
		}
	})
	c.audioEnc = enc
	c.mu.Unlock()

	params, err := send.ProducerRtpParameters(rtc.MediaKindAudio)
	if err != nil {
		return err
	}
	var resp produceResponse
	if err := c.sig.Invoke(ctx, "produce", produceRequest{
		TransportId:   send.Id(),
		Kind:          rtc.MediaKindAudio,
		RtpParameters: params,
	}, &resp); err != nil {
		return err
	}
	c.log.Infof("audio producer %s created", resp.Id)

	runCtx, cancel := c.produceContext(ctx)
	c.produceWg.Add(1)
	go func() {
		defer c.produceWg.Done()
		defer cancel()
		for {
			pcm, err := source.ReadPCM(runCtx)
			if err != nil {
				if runCtx.Err() == nil {
					c.log.WithError(err).Warn("audio source ended")
				}
				return
			}
			if err := enc.Write(pcm); err != nil {
				if errors.Is(err, codec.ErrDisposed) {
					return
				}
				c.log.WithError(err).Warn("audio encode failed")
			}
		}
	}()
	return nil
}

// produceContext derives the loop context so Close cancels every producer.
func (c *Client) produceContext(ctx context.Context) (context.Context, context.CancelFunc) {
	c.mu.Lock()
	session := c.sessionCtx
	c.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	if session != nil {
		go func() {
			select {
			case <-session.Done():
				cancel()
			case <-runCtx.Done():
			}
		}()
	}
	return runCtx, cancel
}

// SetVideoCodec switches the outbound video variant mid-session. Exactly one
// encoder teardown and rebuild happens; the first frame out of the new
// encoder is a keyframe. An unusable variant falls back to VP8.
func (c *Client) SetVideoCodec(variant codec.VideoCodecType) error {
	c.mu.Lock()
	send := c.send
	c.mu.Unlock()
	if send == nil {
		return rtc.ErrTransportClosed
	}

	err := send.SetVideoCodec(variant)
	if errors.Is(err, rtc.ErrCodecUnavailable) {
		c.log.Warnf("%s not usable, falling back to VP8", variant)
		variant = codec.VideoCodecVP8
		err = send.SetVideoCodec(variant)
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.videoEnc == nil {
		return nil
	}
	old := c.videoEnc
	cfg := old.Config()
	cfg.Codec = variant
	old.Close()

	enc := codec.NewVideoEncoder(cfg)
	enc.OnFrameEncoded(func(frame codec.EncodedFrame) {
		if err := send.SendVideoFrame(frame); err != nil {
			c.log.WithError(err).Debug("video frame send failed")
		}
	})
	if err := enc.Init(); err != nil {
		return err
	}
	c.videoEnc = enc
	return nil
}

// RecreateRecvTransport replaces a failed receive transport with a fresh one
// from the server. Active consumers are dropped; the server re-announces
// them on the new transport.
func (c *Client) RecreateRecvTransport(ctx context.Context) error {
	c.mu.Lock()
	old := c.recv
	c.recv = nil
	c.mu.Unlock()

	if old != nil {
		for _, consumer := range old.Consumers() {
			c.decoder.RemoveConsumer(consumer.Id)
		}
		old.Close()
	}

	recv, err := c.setupRecvTransport(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.recv = recv
	c.recvAnnounced = false
	c.mu.Unlock()
	c.log.Info("recv transport recreated")
	return nil
}

func (c *Client) handleNotification(method string, payload json.RawMessage) {
	switch method {
	case "newConsumer":
		var n consumerNotification
		if err := json.Unmarshal(payload, &n); err != nil {
			c.log.WithError(err).Warn("bad newConsumer payload")
			return
		}
		if err := c.addConsumer(n); err != nil {
			c.log.WithError(err).Warnf("consume %s failed", n.Id)
		}
	case "consumerClosed":
		var n consumerClosedNotification
		if err := json.Unmarshal(payload, &n); err != nil {
			return
		}
		c.removeConsumer(n.ConsumerId)
	default:
		c.log.Debugf("unhandled notification %q", method)
	}
}

func (c *Client) addConsumer(n consumerNotification) error {
	c.mu.Lock()
	recv := c.recv
	c.mu.Unlock()
	if recv == nil {
		return rtc.ErrTransportClosed
	}

	consumer := &rtc.Consumer{
		Id:            n.Id,
		ProducerId:    n.ProducerId,
		Kind:          n.Kind,
		RtpParameters: n.RtpParameters,
	}

	if n.Kind == rtc.MediaKindVideo {
		variant, ok := n.RtpParameters.VideoCodec()
		if !ok {
			return rtc.ErrCodecUnavailable
		}
		if err := c.decoder.SetConsumerVideoCodecType(n.Id, variant); err != nil {
			return err
		}
	} else {
		if err := c.decoder.AddAudioConsumer(n.Id); err != nil {
			return err
		}
	}

	if err := recv.Consume(consumer); err != nil {
		c.decoder.RemoveConsumer(n.Id)
		return err
	}

	c.mu.Lock()
	announced := c.recvAnnounced
	c.recvAnnounced = true
	c.mu.Unlock()
	if !announced {
		if err := c.connectTransport(context.Background(), recv.Transport); err != nil {
			c.mu.Lock()
			c.recvAnnounced = false
			c.mu.Unlock()
			return err
		}
	}

	// resume is fire and forget, the server starts forwarding on receipt
	if err := c.sig.Notify(context.Background(), "consumerResume", consumerClosedNotification{ConsumerId: n.Id}); err != nil {
		c.log.WithError(err).Debugf("consumer %s resume notify failed", n.Id)
	}
	return nil
}

func (c *Client) removeConsumer(consumerId string) {
	c.mu.Lock()
	recv := c.recv
	c.mu.Unlock()
	if recv != nil {
		if err := recv.CloseConsumer(consumerId); err != nil && !errors.Is(err, rtc.ErrConsumerNotFound) {
			c.log.WithError(err).Warnf("close consumer %s failed", consumerId)
		}
	}
	c.decoder.RemoveConsumer(consumerId)
	c.log.Infof("consumer %s closed", consumerId)
}

func (c *Client) handleVideoPacket(consumerId string, pkt *rtp.Packet) {
	if err := c.decoder.ProcessVideoRtpPacket(consumerId, pkt); err != nil {
		c.log.WithError(err).Debugf("video packet for %s dropped", consumerId)
	}
}

func (c *Client) handleAudioPacket(consumerId string, pkt *rtp.Packet) {
	if err := c.decoder.ProcessAudioRtpPacket(consumerId, pkt); err != nil {
		c.log.WithError(err).Debugf("audio packet for %s dropped", consumerId)
	}
}

// Close tears the session down in reverse construction order. Safe to call
// more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	videoEnc := c.videoEnc
	audioEnc := c.audioEnc
	send := c.send
	recv := c.recv
	sig := c.sig
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.produceWg.Wait()

	var result *multierror.Error
	if videoEnc != nil {
		if err := videoEnc.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if audioEnc != nil {
		if err := audioEnc.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if send != nil {
		if err := send.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if recv != nil {
		if err := recv.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	c.decoder.Close()
	if sig != nil {
		if err := sig.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	c.log.Info("session closed")
	return result.ErrorOrNil()
}
