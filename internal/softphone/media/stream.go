// Package media carries call audio: SDP negotiation and a G.711 RTP leg.
package media

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
)

// Source produces outgoing audio as 16-bit little-endian PCM.
type Source interface {
	// ReadFrame returns exactly samples*2 bytes.
	ReadFrame(samples int) []byte
}

// Silence is a Source of zero samples.
type Silence struct{}

// ReadFrame implements Source.
func (Silence) ReadFrame(samples int) []byte {
	return make([]byte, samples*2)
}

// Stats is a snapshot of stream counters.
type Stats struct {
	PacketsSent     uint64 `json:"packets_sent"`
	PacketsReceived uint64 `json:"packets_received"`
	PacketsLost     uint64 `json:"packets_lost"`
	HighestSeq      uint32 `json:"highest_seq"`
}

// Stream is one bidirectional RTP leg. Outgoing frames are paced at the
// codec's frame interval; incoming packets feed the loss counters.
type Stream struct {
	conn net.PacketConn
	log  *slog.Logger

	mu      sync.Mutex
	remote  net.Addr
	codec   Codec
	source  Source
	ssrc    uint32
	seq     uint16
	ts      uint32
	sent    uint64
	tracker lossTracker
	onAudio func(pcm []byte)

	muted   atomic.Bool
	started atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	release     func()
	releaseOnce sync.Once
}

// Listen opens a stream on a UDP port chosen by the OS.
func Listen(bindAddr string) (*Stream, error) {
	conn, err := net.ListenPacket("udp4", net.JoinHostPort(bindAddr, "0"))
	if err != nil {
		return nil, fmt.Errorf("failed to open RTP socket: %w", err)
	}
	return newStream(conn), nil
}

func newStream(conn net.PacketConn) *Stream {
	return &Stream{
		conn:   conn,
		log:    slog.Default(),
		codec:  PCMU,
		source: Silence{},
		ssrc:   randUint32(),
		seq:    uint16(randUint32()),
		ts:     randUint32(),
	}
}

// LocalPort returns the bound UDP port for SDP.
func (s *Stream) LocalPort() int {
	if a, ok := s.conn.LocalAddr().(*net.UDPAddr); ok {
		return a.Port
	}
	return 0
}

// SetRemote points the stream at the far end and selects the codec.
func (s *Stream) SetRemote(r Remote, codec Codec) error {
	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(r.Addr, fmt.Sprint(r.Port)))
	if err != nil {
		return fmt.Errorf("invalid remote media address: %w", err)
	}
	s.mu.Lock()
	s.remote = addr
	s.codec = codec
	s.mu.Unlock()
	return nil
}

// SetSource replaces the outgoing audio source.
func (s *Stream) SetSource(src Source) {
	s.mu.Lock()
	s.source = src
	s.mu.Unlock()
}

// OnAudio registers a callback receiving decoded PCM of each incoming packet.
func (s *Stream) OnAudio(fn func(pcm []byte)) {
	s.mu.Lock()
	s.onAudio = fn
	s.mu.Unlock()
}

// Mute replaces outgoing audio with silence while set.
func (s *Stream) Mute(muted bool) {
	s.muted.Store(muted)
}

// Muted reports the mute state.
func (s *Stream) Muted() bool {
	return s.muted.Load()
}

// Start begins sending and receiving. The remote must be set.
func (s *Stream) Start() error {
	s.mu.Lock()
	remote := s.remote
	s.mu.Unlock()
	if remote == nil {
		return errors.New("remote media address not set")
	}
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(2)
	go s.sendLoop(ctx)
	go s.receiveLoop()
	return nil
}

// Stats returns the current counters.
func (s *Stream) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		PacketsSent:     s.sent,
		PacketsReceived: s.tracker.received,
		PacketsLost:     s.tracker.lost,
		HighestSeq:      s.tracker.extended(),
	}
}

// Close stops both directions and releases the socket.
func (s *Stream) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	err := s.conn.Close()
	s.wg.Wait()
	if s.release != nil {
		s.releaseOnce.Do(s.release)
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Stream) sendLoop(ctx context.Context) {
	defer s.wg.Done()

	s.mu.Lock()
	frame := s.codec.Frame
	s.mu.Unlock()

	ticker := time.NewTicker(frame)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.writeFrame(); err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.log.Debug("[Media] RTP write failed", "error", err)
			}
		}
	}
}

// nextPacket builds the next outgoing packet and advances the header state.
func (s *Stream) nextPacket() (*rtp.Packet, net.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var payload []byte
	if s.muted.Load() {
		payload = s.codec.Silence()
	} else {
		payload = s.codec.Encode(s.source.ReadFrame(s.codec.SamplesPerFrame()))
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         s.sent == 0,
			PayloadType:    s.codec.PayloadType,
			SequenceNumber: s.seq,
			Timestamp:      s.ts,
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}
	s.seq++
	s.ts += uint32(s.codec.SamplesPerFrame())
	s.sent++
	return pkt, s.remote
}

func (s *Stream) writeFrame() error {
	pkt, remote := s.nextPacket()
	data, err := pkt.Marshal()
	if err != nil {
		return err
	}
	_, err = s.conn.WriteTo(data, remote)
	return err
}

func (s *Stream) receiveLoop() {
	defer s.wg.Done()

	buf := make([]byte, 1500)
	for {
		n, _, err := s.conn.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.log.Debug("[Media] RTP read stopped", "error", err)
			}
			return
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}

		s.mu.Lock()
		if lost := s.tracker.observe(pkt.SequenceNumber); lost > 0 {
			s.log.Debug("[Media] Packet loss", "lost", lost, "seq", pkt.SequenceNumber)
		}
		onAudio, codec := s.onAudio, s.codec
		s.mu.Unlock()

		if onAudio != nil && pkt.PayloadType == codec.PayloadType {
			onAudio(codec.Decode(pkt.Payload))
		}
	}
}

func randUint32() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint32(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint32(b[:])
}
