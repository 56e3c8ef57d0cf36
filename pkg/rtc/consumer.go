package rtc

import (
	"fmt"
	"strconv"
)

// Consumer is one remote stream the SFU forwards to this client. The SFU
// allocates the id and the RtpParameters; the mid is assigned locally in
// consume order so renegotiations stay stable.
type Consumer struct {
	Id            string
	ProducerId    string
	Kind          MediaKind
	RtpParameters RtpParameters

	mid string
}

// Mid returns the locally assigned media section id.
func (c *Consumer) Mid() string { return c.mid }

// Ssrc returns the primary media SSRC from the SFU's encoding.
func (c *Consumer) Ssrc() uint32 {
	return c.RtpParameters.Ssrc()
}

// RtxSsrc returns the retransmission SSRC, zero when the SFU sent none.
func (c *Consumer) RtxSsrc() uint32 {
	if len(c.RtpParameters.Encodings) == 0 || c.RtpParameters.Encodings[0].Rtx == nil {
		return 0
	}
	return c.RtpParameters.Encodings[0].Rtx.Ssrc
}

// Cname returns the RTCP canonical name, with a deterministic fallback when
// the SFU omitted it.
func (c *Consumer) Cname() string {
	if c.RtpParameters.Rtcp.Cname != "" {
		return c.RtpParameters.Rtcp.Cname
	}
	return "consumer-" + c.Id
}

// sdpInfo flattens the consumer into the slice the offer synthesizer needs.
func (c *Consumer) sdpInfo() ConsumerSdpInfo {
	return ConsumerSdpInfo{
		ConsumerId: c.Id,
		Mid:        c.mid,
		Kind:       c.Kind,
		Codecs:     c.RtpParameters.Codecs,
		Ssrc:       c.Ssrc(),
		RtxSsrc:    c.RtxSsrc(),
		Cname:      c.Cname(),
	}
}

func (c *Consumer) validate() error {
	if c.Id == "" {
		return fmt.Errorf("consumer: empty id")
	}
	if len(c.RtpParameters.Codecs) == 0 {
		return fmt.Errorf("consumer %s: no codecs", c.Id)
	}
	if c.Ssrc() == 0 {
		return fmt.Errorf("consumer %s: no encoding ssrc", c.Id)
	}
	return nil
}

func midForIndex(index int) string {
	return strconv.Itoa(index)
}
