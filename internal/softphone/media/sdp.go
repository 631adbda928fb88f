package media

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/pion/sdp/v3"
)

// ErrNoCommonCodec indicates the remote side offered no supported codec.
var ErrNoCommonCodec = errors.New("no common codec")

// Remote is the media endpoint described by the far end's SDP.
type Remote struct {
	Addr    string
	Port    int
	Formats []string
}

// BuildOffer creates an SDP offer for an outbound call listing every
// supported codec plus telephone-event.
func BuildOffer(addr string, port int) ([]byte, error) {
	formats := make([]string, 0, len(Supported)+1)
	for _, c := range Supported {
		formats = append(formats, strconv.Itoa(int(c.PayloadType)))
	}
	formats = append(formats, strconv.Itoa(telephoneEventPT))
	return build(addr, port, formats, Supported)
}

// BuildAnswer creates an SDP answer selecting one codec.
func BuildAnswer(addr string, port int, codec Codec) ([]byte, error) {
	formats := []string{strconv.Itoa(int(codec.PayloadType)), strconv.Itoa(telephoneEventPT)}
	return build(addr, port, formats, []Codec{codec})
}

func build(addr string, port int, formats []string, codecs []Codec) ([]byte, error) {
	attrs := make([]sdp.Attribute, 0, len(codecs)+4)
	for _, c := range codecs {
		attrs = append(attrs, sdp.NewAttribute("rtpmap", c.rtpmap()))
	}
	attrs = append(attrs,
		sdp.NewAttribute("rtpmap", strconv.Itoa(telephoneEventPT)+" telephone-event/8000"),
		sdp.NewAttribute("fmtp", strconv.Itoa(telephoneEventPT)+" 0-15"),
		sdp.NewAttribute("ptime", "20"),
		sdp.NewPropertyAttribute("sendrecv"),
	)

	desc := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "agentphone",
			SessionID:      uint64(time.Now().Unix()),
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: addr,
		},
		SessionName: "agentphone",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: addr},
		},
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{}}},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: port},
					Protos:  []string{"RTP", "AVP"},
					Formats: formats,
				},
				Attributes: attrs,
			},
		},
	}
	return desc.Marshal()
}

// ParseRemote extracts the audio endpoint from an SDP body.
func ParseRemote(body []byte) (Remote, error) {
	if len(body) == 0 {
		return Remote{}, errors.New("empty SDP")
	}
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(body); err != nil {
		return Remote{}, fmt.Errorf("failed to parse SDP: %w", err)
	}

	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media != "audio" {
			continue
		}
		r := Remote{
			Port:    md.MediaName.Port.Value,
			Formats: md.MediaName.Formats,
		}
		if md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil {
			r.Addr = md.ConnectionInformation.Address.Address
		} else if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil {
			r.Addr = desc.ConnectionInformation.Address.Address
		}
		if r.Addr == "" {
			return Remote{}, errors.New("no connection address in SDP")
		}
		return r, nil
	}
	return Remote{}, errors.New("no audio media in SDP")
}

// Negotiate picks the first supported codec in the remote's order.
func (r Remote) Negotiate() (Codec, error) {
	for _, f := range r.Formats {
		pt, err := strconv.Atoi(f)
		if err != nil || pt < 0 || pt > 127 {
			continue
		}
		if c, ok := CodecByPayloadType(uint8(pt)); ok {
			return c, nil
		}
	}
	return Codec{}, ErrNoCommonCodec
}
