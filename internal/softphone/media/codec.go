package media

import (
	"strconv"
	"time"

	"github.com/zaf/g711"
)

// Codec describes a G.711 audio codec.
type Codec struct {
	Name        string        // rtpmap encoding name
	PayloadType uint8         // static RTP payload type
	ClockRate   uint32        // samples per second
	Frame       time.Duration // packetization interval
}

var (
	// PCMU is G.711 µ-law
	PCMU = Codec{"PCMU", 0, 8000, 20 * time.Millisecond}
	// PCMA is G.711 A-law
	PCMA = Codec{"PCMA", 8, 8000, 20 * time.Millisecond}
)

// telephoneEventPT is the dynamic payload type offered for RFC 4733 DTMF.
const telephoneEventPT = 101

// Supported lists codecs in preference order.
var Supported = []Codec{PCMU, PCMA}

// CodecByPayloadType returns the supported codec for pt.
func CodecByPayloadType(pt uint8) (Codec, bool) {
	for _, c := range Supported {
		if c.PayloadType == pt {
			return c, true
		}
	}
	return Codec{}, false
}

// SamplesPerFrame returns the sample count of one packet. 160 for 8kHz/20ms.
func (c Codec) SamplesPerFrame() int {
	return int(c.ClockRate) * int(c.Frame) / int(time.Second)
}

// Encode converts 16-bit little-endian PCM to the codec's wire format.
func (c Codec) Encode(pcm []byte) []byte {
	if c.PayloadType == PCMA.PayloadType {
		return g711.EncodeAlaw(pcm)
	}
	return g711.EncodeUlaw(pcm)
}

// Decode converts a payload back to 16-bit little-endian PCM.
func (c Codec) Decode(payload []byte) []byte {
	if c.PayloadType == PCMA.PayloadType {
		return g711.DecodeAlaw(payload)
	}
	return g711.DecodeUlaw(payload)
}

// Silence returns one encoded frame of silence.
func (c Codec) Silence() []byte {
	return c.Encode(make([]byte, c.SamplesPerFrame()*2))
}

func (c Codec) rtpmap() string {
	return strconv.Itoa(int(c.PayloadType)) + " " + c.Name + "/" + strconv.Itoa(int(c.ClockRate))
}
