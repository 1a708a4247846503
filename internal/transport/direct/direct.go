// Package direct implements the peer-to-peer NAT-traversal transport: an
// ICE offer/answer exchange carried over a caller-supplied signaling
// channel, followed by a chunked, encrypted, backpressured byte stream
// over the resulting ICE connection.
package direct

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/pion/ice/v4"
	"github.com/pion/stun/v3"

	"github.com/andrewtheguy/securesend/internal/config"
	xcrypto "github.com/andrewtheguy/securesend/internal/crypto"
	"github.com/andrewtheguy/securesend/internal/filetransfer"
	"github.com/andrewtheguy/securesend/internal/protocol"
	"github.com/andrewtheguy/securesend/internal/reassembly"
	"github.com/andrewtheguy/securesend/internal/xferr"
)

// Signaling is the out-of-band channel the ICE offer/answer exchange
// travels over: the session-AEAD-wrapped rendezvous "signal" event in
// the common case, or the manual copy-paste envelope when there is no
// rendezvous substrate.
type Signaling interface {
	Send(ctx context.Context, payload []byte) error
	Receive(ctx context.Context) ([]byte, error)
}

// frame kinds distinguish chunk data from control strings on the single
// ICE stream, since ice.Conn is a raw byte stream, not a message
// transport the way a WebRTC data channel would be.
const (
	frameKindControl byte = 0
	frameKindChunk   byte = 1

	frameHeaderSize = 1 + 4 // kind byte + u32_be length
	maxFrameSize    = 256 * 1024
)

// Conn is one end of an established direct transport connection.
type Conn struct {
	ice        *ice.Conn
	agent      *ice.Agent
	sessionKey *xcrypto.SessionKey
	cfg        config.DirectConfig
	logger     *slog.Logger
}

// Dial performs the controlling (offering) side of the ICE exchange: it
// gathers local candidates, sends an offer over signaling, awaits the
// answer, and dials the resulting ICE connection. This is the sender's
// role.
func Dial(ctx context.Context, cfg config.DirectConfig, signaling Signaling, sessionKey *xcrypto.SessionKey, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "direct", "role", "offerer")

	agent, err := newAgent(cfg)
	if err != nil {
		return nil, xferr.New(xferr.TransportError, err)
	}

	ufrag, pwd := agent.GetLocalUserCredentials()
	candidates, err := gatherCandidates(ctx, agent, cfg.GatherTimeout)
	if err != nil {
		agent.Close()
		return nil, xferr.New(xferr.TransportError, fmt.Errorf("gather candidates: %w", err))
	}

	offer := protocol.SignalPayload{
		Type:       "offer",
		SDP:        ufrag + ":" + pwd,
		Candidates: candidates,
	}
	if err := sendSignal(ctx, signaling, offer); err != nil {
		agent.Close()
		return nil, err
	}

	answer, err := awaitSignal(ctx, signaling, "answer")
	if err != nil {
		agent.Close()
		return nil, err
	}

	remoteUfrag, remotePwd, err := splitCredentials(answer.SDP)
	if err != nil {
		agent.Close()
		return nil, xferr.New(xferr.ProtocolError, err)
	}
	if err := addRemoteCandidates(agent, answer.Candidates); err != nil {
		agent.Close()
		return nil, xferr.New(xferr.TransportError, err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ChannelOpenTimeout)
	defer cancel()
	iceConn, err := agent.Dial(dialCtx, remoteUfrag, remotePwd)
	if err != nil {
		agent.Close()
		return nil, xferr.New(xferr.TransportError, fmt.Errorf("ice dial: %w", err))
	}

	logger.Info("direct connection established")
	return &Conn{ice: iceConn, agent: agent, sessionKey: sessionKey, cfg: cfg, logger: logger}, nil
}

// Accept performs the controlled (answering) side: it awaits the offer,
// gathers its own candidates, sends the answer, and accepts the ICE
// connection. This is the receiver's role.
func Accept(ctx context.Context, cfg config.DirectConfig, signaling Signaling, sessionKey *xcrypto.SessionKey, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "direct", "role", "answerer")

	offer, err := awaitSignal(ctx, signaling, "offer")
	if err != nil {
		return nil, err
	}

	agent, err := newAgent(cfg)
	if err != nil {
		return nil, xferr.New(xferr.TransportError, err)
	}

	ufrag, pwd := agent.GetLocalUserCredentials()
	candidates, err := gatherCandidates(ctx, agent, cfg.GatherTimeout)
	if err != nil {
		agent.Close()
		return nil, xferr.New(xferr.TransportError, fmt.Errorf("gather candidates: %w", err))
	}

	remoteUfrag, remotePwd, err := splitCredentials(offer.SDP)
	if err != nil {
		agent.Close()
		return nil, xferr.New(xferr.ProtocolError, err)
	}
	if err := addRemoteCandidates(agent, offer.Candidates); err != nil {
		agent.Close()
		return nil, xferr.New(xferr.TransportError, err)
	}

	answer := protocol.SignalPayload{
		Type:       "answer",
		SDP:        ufrag + ":" + pwd,
		Candidates: candidates,
	}
	if err := sendSignal(ctx, signaling, answer); err != nil {
		agent.Close()
		return nil, err
	}

	acceptCtx, cancel := context.WithTimeout(ctx, cfg.ChannelOpenTimeout)
	defer cancel()
	iceConn, err := agent.Accept(acceptCtx, remoteUfrag, remotePwd)
	if err != nil {
		agent.Close()
		return nil, xferr.New(xferr.TransportError, fmt.Errorf("ice accept: %w", err))
	}

	logger.Info("direct connection established")
	return &Conn{ice: iceConn, agent: agent, sessionKey: sessionKey, cfg: cfg, logger: logger}, nil
}

// Close releases the ICE connection and agent.
func (c *Conn) Close() error {
	var err error
	if c.ice != nil {
		err = c.ice.Close()
	}
	if c.agent != nil {
		c.agent.Close()
	}
	return err
}

// Send chunks plaintext from r into cfg.ChunkSize pieces, encrypts each
// with the session key, and writes them to the ICE stream, applying
// backpressure via the configured rate limit. It finishes with the
// DONE:<n> control frame and waits for DONE_ACK.
func (c *Conn) Send(ctx context.Context, r io.Reader) error {
	limited := filetransfer.NewRateLimitedReader(ctx, r, int64(c.cfg.RateLimitBytesPerSecond), c.cfg.ChunkSize)

	buf := make([]byte, c.cfg.ChunkSize)
	var seq uint32
	for {
		n, readErr := io.ReadFull(limited, buf)
		if n > 0 {
			ciphertext, err := c.sessionKey.Seal(buf[:n], nil)
			if err != nil {
				return xferr.New(xferr.TransportError, fmt.Errorf("encrypt chunk %d: %w", seq, err))
			}
			frame := protocol.ChunkFrame{Seq: seq, Ciphertext: ciphertext}
			if err := c.writeFrame(frameKindChunk, frame.Encode()); err != nil {
				return xferr.New(xferr.TransportError, fmt.Errorf("write chunk %d: %w", seq, err))
			}
			seq++
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return xferr.New(xferr.TransportError, fmt.Errorf("read plaintext: %w", readErr))
		}
	}

	if err := c.writeFrame(frameKindControl, []byte(protocol.EncodeDone(int(seq)))); err != nil {
		return xferr.New(xferr.TransportError, fmt.Errorf("write done frame: %w", err))
	}

	kind, payload, err := c.readFrame(ctx)
	if err != nil {
		return xferr.New(xferr.TransportError, fmt.Errorf("await done ack: %w", err))
	}
	if kind != frameKindControl || !protocol.IsDoneAck(string(payload)) {
		return xferr.New(xferr.ProtocolError, fmt.Errorf("expected DONE_ACK, got %q", payload))
	}
	return nil
}

// Receive reads chunk frames until the sender's DONE:<n> control frame,
// verifies every chunk arrived, replies DONE_ACK, and returns the
// reconstructed plaintext.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	buffer := reassembly.New(c.cfg.ChunkSize)

	for {
		kind, payload, err := c.readFrame(ctx)
		if err != nil {
			return nil, xferr.New(xferr.TransportError, fmt.Errorf("read frame: %w", err))
		}

		if kind == frameKindControl {
			n, ok := protocol.DecodeDone(string(payload))
			if !ok {
				return nil, xferr.New(xferr.ProtocolError, fmt.Errorf("unexpected control frame %q", payload))
			}
			buffer.SetTotalChunks(n)
			if !buffer.Complete() {
				return nil, xferr.New(xferr.ProtocolError, fmt.Errorf(
					"incomplete transfer: received %d of %d chunks", buffer.ReceivedCount(), n))
			}
			if err := c.writeFrame(frameKindControl, []byte(protocol.DoneAck)); err != nil {
				return nil, xferr.New(xferr.TransportError, fmt.Errorf("write done ack: %w", err))
			}
			return buffer.Bytes(), nil
		}

		frame, err := protocol.DecodeChunkFrame(payload)
		if err != nil {
			return nil, xferr.New(xferr.ProtocolError, err)
		}
		plaintext, err := c.sessionKey.Open(frame.Ciphertext, nil)
		if err != nil {
			return nil, xferr.New(xferr.ProtocolError, fmt.Errorf("decrypt chunk %d: %w", frame.Seq, err))
		}
		if err := buffer.WriteAt(int(frame.Seq), plaintext); err != nil {
			return nil, xferr.New(xferr.ProtocolError, err)
		}
	}
}

func (c *Conn) writeFrame(kind byte, payload []byte) error {
	return encodeFrame(c.ice, kind, payload)
}

func (c *Conn) readFrame(ctx context.Context) (byte, []byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		c.ice.SetReadDeadline(deadline)
	}
	return decodeFrame(c.ice)
}

// encodeFrame writes one kind-prefixed, length-prefixed frame to w. Split
// out from Conn so the framing logic can be unit tested over a plain
// io.Writer instead of a live ICE connection.
func encodeFrame(w io.Writer, kind byte, payload []byte) error {
	if len(payload) > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds max %d", len(payload), maxFrameSize)
	}
	header := make([]byte, frameHeaderSize)
	header[0] = kind
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// decodeFrame reads one frame from r.
func decodeFrame(r io.Reader) (byte, []byte, error) {
	header := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	kind := header[0]
	length := binary.BigEndian.Uint32(header[1:])
	if length > maxFrameSize {
		return 0, nil, fmt.Errorf("frame length %d exceeds max %d", length, maxFrameSize)
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, err
		}
	}
	return kind, payload, nil
}

func newAgent(cfg config.DirectConfig) (*ice.Agent, error) {
	var urls []*stun.URI
	for _, s := range cfg.STUNServers {
		u, err := stun.ParseURI(s)
		if err != nil {
			continue
		}
		urls = append(urls, u)
	}
	for _, s := range cfg.TURNServers {
		u, err := stun.ParseURI(s)
		if err != nil {
			continue
		}
		u.Username = cfg.TURNUser
		u.Password = cfg.TURNPass
		urls = append(urls, u)
	}

	disconnected := 10 * time.Second
	failed := 30 * time.Second
	keepalive := 2 * time.Second

	return ice.NewAgent(&ice.AgentConfig{
		Urls:                urls,
		NetworkTypes:        []ice.NetworkType{ice.NetworkTypeUDP4},
		CandidateTypes:      []ice.CandidateType{ice.CandidateTypeHost, ice.CandidateTypeServerReflexive, ice.CandidateTypeRelay},
		DisconnectedTimeout: &disconnected,
		FailedTimeout:       &failed,
		KeepaliveInterval:   &keepalive,
	})
}

// gatherCandidates starts ICE candidate gathering and collects every
// candidate until the agent signals completion (a nil candidate) or
// timeout elapses.
func gatherCandidates(ctx context.Context, agent *ice.Agent, timeout time.Duration) ([]string, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	done := make(chan struct{})
	var candidates []string
	if err := agent.OnCandidate(func(c ice.Candidate) {
		if c == nil {
			close(done)
			return
		}
		candidates = append(candidates, c.Marshal())
	}); err != nil {
		return nil, fmt.Errorf("register candidate callback: %w", err)
	}

	if err := agent.GatherCandidates(); err != nil {
		return nil, fmt.Errorf("start gathering: %w", err)
	}

	select {
	case <-done:
		return candidates, nil
	case <-time.After(timeout):
		return candidates, fmt.Errorf("ice candidate gathering timed out after %s", timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func addRemoteCandidates(agent *ice.Agent, marshaled []string) error {
	for _, raw := range marshaled {
		c, err := ice.UnmarshalCandidate(raw)
		if err != nil {
			return fmt.Errorf("unmarshal remote candidate %q: %w", raw, err)
		}
		if err := agent.AddRemoteCandidate(c); err != nil {
			return fmt.Errorf("add remote candidate: %w", err)
		}
	}
	return nil
}

func splitCredentials(sdp string) (ufrag, pwd string, err error) {
	for i := 0; i < len(sdp); i++ {
		if sdp[i] == ':' {
			return sdp[:i], sdp[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("malformed ice credentials %q", sdp)
}

func sendSignal(ctx context.Context, signaling Signaling, p protocol.SignalPayload) error {
	data, err := protocol.EncodeSignal(p)
	if err != nil {
		return xferr.New(xferr.ProtocolError, err)
	}
	if err := signaling.Send(ctx, data); err != nil {
		return xferr.New(xferr.TransportError, fmt.Errorf("send %s signal: %w", p.Type, err))
	}
	return nil
}

func awaitSignal(ctx context.Context, signaling Signaling, wantType string) (protocol.SignalPayload, error) {
	data, err := signaling.Receive(ctx)
	if err != nil {
		return protocol.SignalPayload{}, xferr.New(xferr.TransportError, fmt.Errorf("receive %s signal: %w", wantType, err))
	}
	p, err := protocol.DecodeSignal(data)
	if err != nil {
		return protocol.SignalPayload{}, xferr.New(xferr.ProtocolError, err)
	}
	if p.Type != wantType {
		return protocol.SignalPayload{}, xferr.New(xferr.ProtocolError, fmt.Errorf("expected %s signal, got %s", wantType, p.Type))
	}
	return p, nil
}
