package media

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestOfferRoundTrip(t *testing.T) {
	body, err := BuildOffer("192.0.2.10", 40000)
	if err != nil {
		t.Fatalf("BuildOffer: %v", err)
	}
	text := string(body)
	for _, want := range []string{"m=audio 40000 RTP/AVP 0 8 101", "a=rtpmap:0 PCMU/8000", "a=rtpmap:8 PCMA/8000", "a=sendrecv", "a=ptime:20"} {
		if !strings.Contains(text, want) {
			t.Errorf("offer missing %q:\n%s", want, text)
		}
	}

	r, err := ParseRemote(body)
	if err != nil {
		t.Fatalf("ParseRemote: %v", err)
	}
	if r.Addr != "192.0.2.10" || r.Port != 40000 {
		t.Errorf("remote = %+v", r)
	}
	c, err := r.Negotiate()
	if err != nil || c.Name != "PCMU" {
		t.Errorf("Negotiate = %+v, %v", c, err)
	}
}

func TestAnswerSelectsOneCodec(t *testing.T) {
	body, err := BuildAnswer("192.0.2.20", 41000, PCMA)
	if err != nil {
		t.Fatalf("BuildAnswer: %v", err)
	}
	r, err := ParseRemote(body)
	if err != nil {
		t.Fatalf("ParseRemote: %v", err)
	}
	c, err := r.Negotiate()
	if err != nil || c.PayloadType != 8 {
		t.Errorf("Negotiate = %+v, %v; want PCMA", c, err)
	}
	if strings.Contains(string(body), "PCMU") {
		t.Error("answer lists an unselected codec")
	}
}

func TestNegotiatePrefersRemoteOrder(t *testing.T) {
	r := Remote{Addr: "x", Port: 1, Formats: []string{"18", "8", "0"}}
	c, err := r.Negotiate()
	if err != nil || c.Name != "PCMA" {
		t.Errorf("Negotiate = %+v, %v; want PCMA", c, err)
	}

	r.Formats = []string{"18", "96"}
	if _, err := r.Negotiate(); !errors.Is(err, ErrNoCommonCodec) {
		t.Errorf("err = %v, want ErrNoCommonCodec", err)
	}
}

func TestParseRemoteErrors(t *testing.T) {
	if _, err := ParseRemote(nil); err == nil {
		t.Error("expected error for empty body")
	}
	if _, err := ParseRemote([]byte("not sdp")); err == nil {
		t.Error("expected error for garbage")
	}
}

func TestSilenceEncoding(t *testing.T) {
	if n := PCMU.SamplesPerFrame(); n != 160 {
		t.Fatalf("SamplesPerFrame = %d, want 160", n)
	}
	for _, c := range Supported {
		s := c.Silence()
		if len(s) != 160 {
			t.Errorf("%s silence length = %d", c.Name, len(s))
		}
		pcm := c.Decode(s)
		for i := 0; i+1 < len(pcm); i += 2 {
			v := int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
			if v > 16 || v < -16 {
				t.Fatalf("%s silence decodes to %d", c.Name, v)
			}
		}
	}
}

type toneSource struct{}

func (toneSource) ReadFrame(samples int) []byte {
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(8000)
		if i%2 == 1 {
			v = -8000
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(uint16(v) >> 8)
	}
	return out
}

func TestMuteSendsSilence(t *testing.T) {
	s, err := Listen("127.0.0.1")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer s.Close()
	s.SetSource(toneSource{})

	audible, _ := s.nextPacket()
	if bytes.Equal(audible.Payload, PCMU.Silence()) {
		t.Fatal("unmuted frame is silent")
	}

	s.Mute(true)
	muted, _ := s.nextPacket()
	if !bytes.Equal(muted.Payload, PCMU.Silence()) {
		t.Error("muted frame is not silence")
	}
	if muted.SequenceNumber != audible.SequenceNumber+1 {
		t.Errorf("sequence %d after %d", muted.SequenceNumber, audible.SequenceNumber)
	}
	if muted.Timestamp-audible.Timestamp != 160 {
		t.Errorf("timestamp step = %d, want 160", muted.Timestamp-audible.Timestamp)
	}
	if !s.Muted() {
		t.Error("Muted() = false")
	}
}

func TestStreamLoopback(t *testing.T) {
	a, err := Listen("127.0.0.1")
	if err != nil {
		t.Fatalf("Listen a: %v", err)
	}
	defer a.Close()
	b, err := Listen("127.0.0.1")
	if err != nil {
		t.Fatalf("Listen b: %v", err)
	}
	defer b.Close()

	got := make(chan []byte, 100)
	b.OnAudio(func(pcm []byte) {
		select {
		case got <- pcm:
		default:
		}
	})

	if err := a.SetRemote(Remote{Addr: "127.0.0.1", Port: b.LocalPort()}, PCMU); err != nil {
		t.Fatal(err)
	}
	if err := b.SetRemote(Remote{Addr: "127.0.0.1", Port: a.LocalPort()}, PCMU); err != nil {
		t.Fatal(err)
	}
	if err := a.Start(); err != nil {
		t.Fatal(err)
	}
	if err := b.Start(); err != nil {
		t.Fatal(err)
	}

	select {
	case pcm := <-got:
		if len(pcm) != 320 {
			t.Errorf("decoded frame = %d bytes, want 320", len(pcm))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no audio received")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && b.Stats().PacketsReceived < 3 {
		time.Sleep(10 * time.Millisecond)
	}
	if st := b.Stats(); st.PacketsReceived < 3 {
		t.Errorf("stats = %+v", st)
	}
	if a.Stats().PacketsSent == 0 {
		t.Error("sender counted no packets")
	}
}

func TestStartRequiresRemote(t *testing.T) {
	s, err := Listen("127.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.Start(); err == nil {
		t.Error("Start without remote should fail")
	}
}

func TestLossTracker(t *testing.T) {
	var lt lossTracker
	lt.observe(100)
	if gap := lt.observe(101); gap != 0 {
		t.Errorf("gap = %d, want 0", gap)
	}
	if gap := lt.observe(105); gap != 3 {
		t.Errorf("gap = %d, want 3", gap)
	}
	// Late packet does not count.
	if gap := lt.observe(103); gap != 0 {
		t.Errorf("late gap = %d, want 0", gap)
	}
	if lt.lost != 3 || lt.received != 4 {
		t.Errorf("lost=%d received=%d", lt.lost, lt.received)
	}
}

func TestLossTrackerWrap(t *testing.T) {
	var lt lossTracker
	lt.observe(65534)
	lt.observe(65535)
	if gap := lt.observe(1); gap != 1 {
		t.Errorf("gap across wrap = %d, want 1", gap)
	}
	if lt.extended() != 1<<16|1 {
		t.Errorf("extended = %d", lt.extended())
	}
}

func TestPortRangeAllocatesEvenPorts(t *testing.T) {
	r, err := NewPortRange(41001, 41010)
	if err != nil {
		t.Fatalf("NewPortRange: %v", err)
	}
	if r.Size() != 5 {
		t.Errorf("Size() = %d, want 5", r.Size())
	}

	var streams []*Stream
	for range 3 {
		s, err := r.Listen("127.0.0.1")
		if err != nil {
			t.Fatalf("Listen: %v", err)
		}
		streams = append(streams, s)
		if p := s.LocalPort(); p%2 != 0 || p < 41002 || p > 41010 {
			t.Errorf("port %d outside even range", p)
		}
	}
	if streams[0].LocalPort() == streams[1].LocalPort() {
		t.Error("same port handed out twice")
	}
	if r.InUse() != 3 {
		t.Errorf("InUse() = %d, want 3", r.InUse())
	}

	for _, s := range streams {
		s.Close()
	}
	streams[0].Close()
	if r.InUse() != 0 {
		t.Errorf("InUse() after Close = %d, want 0", r.InUse())
	}
}

func TestPortRangeExhausted(t *testing.T) {
	r, err := NewPortRange(41100, 41102)
	if err != nil {
		t.Fatalf("NewPortRange: %v", err)
	}
	var held []*Stream
	defer func() {
		for _, s := range held {
			s.Close()
		}
	}()
	for {
		s, err := r.Listen("127.0.0.1")
		if err != nil {
			if !errors.Is(err, ErrNoPorts) {
				t.Fatalf("err = %v, want ErrNoPorts", err)
			}
			break
		}
		held = append(held, s)
		if len(held) > r.Size() {
			t.Fatal("range handed out more ports than it holds")
		}
	}
}

func TestPortRangeInvalid(t *testing.T) {
	for _, tc := range [][2]int{{100, 200}, {50000, 40000}, {60000, 70000}} {
		if _, err := NewPortRange(tc[0], tc[1]); err == nil {
			t.Errorf("NewPortRange(%d, %d) accepted", tc[0], tc[1])
		}
	}
}

func TestNilPortRangeUsesAnyPort(t *testing.T) {
	var r *PortRange
	s, err := r.Listen("127.0.0.1")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer s.Close()
	if s.LocalPort() == 0 {
		t.Error("no port bound")
	}
}
