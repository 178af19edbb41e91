package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// PeerState is the transport-level connection state of a Peer.
type PeerState int

const (
	PeerNew PeerState = iota
	PeerConnecting
	PeerConnected
	PeerDisconnected
	PeerFailed
	PeerClosed
)

// Peer is the slice of a WebRTC peer connection the binding drives.
type Peer interface {
	AddAudioTrack() (AudioTrack, error)
	CreateDataChannel(label string) (DataChannel, error)
	// CreateOffer sets and returns the local description once ICE gathering is done.
	CreateOffer(ctx context.Context) (string, error)
	SetAnswer(sdp string) error
	OnStateChange(func(PeerState))
	// OnRemoteAudio receives the payload of every inbound PCMU RTP packet.
	OnRemoteAudio(func(payload []byte))
	Close() error
}

type AudioTrack interface {
	WriteSample(data []byte, d time.Duration) error
}

// DataChannel is a reliable ordered channel carrying JSON events.
type DataChannel interface {
	OnOpen(func())
	OnClose(func())
	OnMessage(func([]byte))
	Send(data []byte) error
	Close() error
}

type PeerFactory func(iceServers []string) (Peer, error)

// DefaultICEServers gives the peer more than one traversal helper.
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// PCMURate is the clock rate of the audio track.
const PCMURate = 8000

var pcmu = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: PCMURate, Channels: 1}

// NewPionPeer builds a pion peer connection that only speaks PCMU audio.
func NewPionPeer(iceServers []string) (Peer, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{RTPCodecCapability: pcmu, PayloadType: 0}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register pcmu: %w", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return &pionPeer{pc: pc}, nil
}

type pionPeer struct {
	pc *webrtc.PeerConnection
}

func (p *pionPeer) AddAudioTrack() (AudioTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(pcmu, "audio", "voicebridge")
	if err != nil {
		return nil, err
	}
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}
	// RTCP has to be read for interceptors to run.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return pionTrack{track}, nil
}

func (p *pionPeer) CreateDataChannel(label string) (DataChannel, error) {
	ordered := true
	dc, err := p.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, err
	}
	return pionChannel{dc}, nil
}

func (p *pionPeer) CreateOffer(ctx context.Context) (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	local := p.pc.LocalDescription()
	if local == nil {
		return "", errors.New("no local description after gathering")
	}
	return local.SDP, nil
}

func (p *pionPeer) SetAnswer(sdp string) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

func (p *pionPeer) OnStateChange(fn func(PeerState)) {
	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateConnecting:
			fn(PeerConnecting)
		case webrtc.PeerConnectionStateConnected:
			fn(PeerConnected)
		case webrtc.PeerConnectionStateDisconnected:
			fn(PeerDisconnected)
		case webrtc.PeerConnectionStateFailed:
			fn(PeerFailed)
		case webrtc.PeerConnectionStateClosed:
			fn(PeerClosed)
		}
	})
}

func (p *pionPeer) OnRemoteAudio(fn func([]byte)) {
	p.pc.OnTrack(func(t *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if t.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		for {
			pkt, _, err := t.ReadRTP()
			if err != nil {
				return
			}
			fn(pkt.Payload)
		}
	})
}

func (p *pionPeer) Close() error { return p.pc.Close() }

type pionTrack struct {
	t *webrtc.TrackLocalStaticSample
}

func (t pionTrack) WriteSample(data []byte, d time.Duration) error {
	return t.t.WriteSample(media.Sample{Data: data, Duration: d})
}

type pionChannel struct {
	dc *webrtc.DataChannel
}

func (c pionChannel) OnOpen(fn func())  { c.dc.OnOpen(fn) }
func (c pionChannel) OnClose(fn func()) { c.dc.OnClose(fn) }
func (c pionChannel) OnMessage(fn func([]byte)) {
	c.dc.OnMessage(func(m webrtc.DataChannelMessage) { fn(m.Data) })
}
func (c pionChannel) Send(data []byte) error { return c.dc.Send(data) }
func (c pionChannel) Close() error           { return c.dc.Close() }
