package daemon

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// LotusNodeInfo summarises a Lotus node for operators.
type LotusNodeInfo struct {
	PeerID        string   `json:"peer_id"`
	Head          *TipSet  `json:"head"`
	Peers         int      `json:"peers"`
	Wallets       []string `json:"wallets"`
	DefaultWallet string   `json:"default_wallet,omitempty"`
	Source        Source   `json:"source"`
}

// NodeInfo queries identity, chain head, peers and wallets concurrently.
// The first failing call aborts the rest.
func (c *LotusClient) NodeInfo(ctx context.Context) (*LotusNodeInfo, error) {
	var (
		info                       LotusNodeInfo
		peers                      []PeerInfo
		idSrc, peerSrc, walletSrc Source
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		info.PeerID, idSrc, err = c.ID(gctx)
		return err
	})
	g.Go(func() (err error) {
		info.Head, err = c.ChainHead(gctx)
		return err
	})
	g.Go(func() (err error) {
		peers, peerSrc, err = c.NetPeers(gctx)
		return err
	})
	g.Go(func() (err error) {
		info.Wallets, walletSrc, err = c.WalletList(gctx)
		if err != nil {
			return err
		}
		// a node without a default wallet still reports its list
		info.DefaultWallet, _, _ = c.WalletDefaultAddress(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	info.Peers = len(peers)
	info.Source = weakest(idSrc, info.Head.Source, peerSrc, walletSrc)
	return &info, nil
}

// IPFSNodeInfo summarises an IPFS node for operators.
type IPFSNodeInfo struct {
	Identity *IPFSIdentity `json:"identity"`
	Repo     *RepoStat     `json:"repo"`
	Source   Source        `json:"source"`
}

func (c *IPFSClient) NodeInfo(ctx context.Context) (*IPFSNodeInfo, error) {
	var info IPFSNodeInfo
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		info.Identity, err = c.ID(gctx)
		return err
	})
	g.Go(func() (err error) {
		info.Repo, err = c.RepoStat(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	info.Source = weakest(info.Identity.Source, info.Repo.Source)
	return &info, nil
}

// weakest reports simulated if any part was simulated, then cli, then rpc.
func weakest(srcs ...Source) Source {
	rank := map[Source]int{SourceRPC: 0, SourceCLI: 1, SourceSimulated: 2}
	out := SourceRPC
	for _, s := range srcs {
		if rank[s] > rank[out] {
			out = s
		}
	}
	return out
}
