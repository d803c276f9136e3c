package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	logging "github.com/ipfs/go-log/v2"
	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog"

	"github.com/petervdpas/goopforum/internal/proto"
)

const connectTimeout = 10 * time.Second

func init() {
	// Dial failures and backoff errors from these subsystems go to stderr
	// by default and drown the service log.
	logging.SetLogLevel("swarm2", "error")
	logging.SetLogLevel("pubsub", "warn")
	logging.SetLogLevel("mdns", "warn")
}

// GossipConfig configures the libp2p transport.
type GossipConfig struct {
	ListenPort int      // 0 picks a free port
	Topic      string   // defaults to proto.GossipTopic
	Bootstrap  []string // full multiaddrs including /p2p/<peer id>
	MDNS       bool     // LAN discovery
}

type mdnsNotifee struct {
	h   host.Host
	log zerolog.Logger
}

func (n *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == n.h.ID() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := n.h.Connect(ctx, pi); err != nil {
		n.log.Debug().Err(err).Str("peer", pi.ID.String()).Msg("mdns connect failed")
	}
}

// GossipTransport uses a GossipSub topic as the shared channel, for
// deployments without a broker.
type GossipTransport struct {
	host  host.Host
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	md    mdns.Service
	log   zerolog.Logger
}

func NewGossipTransport(ctx context.Context, cfg GossipConfig, log zerolog.Logger) (*GossipTransport, error) {
	log = log.With().Str("component", "gossip").Logger()
	if cfg.Topic == "" {
		cfg.Topic = proto.GossipTopic
	}

	h, err := libp2p.New(
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", cfg.ListenPort)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: libp2p host: %v", ErrChannelUnavailable, err)
	}

	g := &GossipTransport{host: h, log: log}

	if cfg.MDNS {
		md := mdns.NewMdnsService(h, proto.MdnsTag, &mdnsNotifee{h: h, log: log})
		if err := md.Start(); err != nil {
			_ = h.Close()
			return nil, fmt.Errorf("start mdns: %w", err)
		}
		g.md = md
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		g.closeHost()
		return nil, fmt.Errorf("gossipsub: %w", err)
	}
	topic, err := ps.Join(cfg.Topic)
	if err != nil {
		g.closeHost()
		return nil, fmt.Errorf("join %s: %w", cfg.Topic, err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		_ = topic.Close()
		g.closeHost()
		return nil, fmt.Errorf("subscribe %s: %w", cfg.Topic, err)
	}
	g.topic = topic
	g.sub = sub

	for _, s := range cfg.Bootstrap {
		pi, err := parseBootstrap(s)
		if err != nil {
			log.Warn().Err(err).Str("addr", s).Msg("skipping bootstrap peer")
			continue
		}
		go func(pi peer.AddrInfo) {
			cctx, cancel := context.WithTimeout(ctx, connectTimeout)
			defer cancel()
			if err := h.Connect(cctx, pi); err != nil {
				log.Warn().Err(err).Str("peer", pi.ID.String()).Msg("bootstrap connect failed")
				return
			}
			log.Info().Str("peer", pi.ID.String()).Msg("connected to bootstrap peer")
		}(*pi)
	}

	log.Info().Str("peer_id", h.ID().String()).Str("topic", cfg.Topic).
		Strs("addrs", multiaddrStrings(h.Addrs())).Msg("gossip transport ready")
	return g, nil
}

func parseBootstrap(s string) (*peer.AddrInfo, error) {
	addr, err := ma.NewMultiaddr(s)
	if err != nil {
		return nil, err
	}
	return peer.AddrInfoFromP2pAddr(addr)
}

func multiaddrStrings(addrs []ma.Multiaddr) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.String())
	}
	return out
}

// PeerID returns the libp2p host id, for operators wiring bootstrap lists.
func (g *GossipTransport) PeerID() string { return g.host.ID().String() }

func (g *GossipTransport) Publish(ctx context.Context, payload []byte) error {
	return g.topic.Publish(ctx, payload)
}

func (g *GossipTransport) Next(ctx context.Context) ([]byte, error) {
	m, err := g.sub.Next(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, pubsub.ErrSubscriptionCancelled) {
			return nil, ErrClosed
		}
		return nil, err
	}
	return m.Data, nil
}

func (g *GossipTransport) Close() error {
	if g.sub != nil {
		g.sub.Cancel()
	}
	if g.topic != nil {
		_ = g.topic.Close()
	}
	return g.closeHost()
}

func (g *GossipTransport) closeHost() error {
	if g.md != nil {
		_ = g.md.Close()
	}
	return g.host.Close()
}
