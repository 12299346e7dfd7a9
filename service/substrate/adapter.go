package substrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"golang.org/x/crypto/blake2b"
)

// rpcDialer dials Substrate nodes with go-substrate-rpc-client.
type rpcDialer struct {
	logger *slog.Logger
}

// NewRPCDialer returns a Dialer backed by go-substrate-rpc-client. The
// handshake fetches runtime metadata, the runtime version and the genesis
// hash, so a returned Connection is ready for every query the flow makes.
func NewRPCDialer(logger *slog.Logger) Dialer {
	return &rpcDialer{logger: logger}
}

func (d *rpcDialer) Dial(ctx context.Context, endpoint string) (Connection, error) {
	type dialResult struct {
		api *gsrpc.SubstrateAPI
		err error
	}
	ch := make(chan dialResult, 1)
	go func() {
		api, err := gsrpc.NewSubstrateAPI(endpoint)
		ch <- dialResult{api: api, err: err}
	}()

	var api *gsrpc.SubstrateAPI
	select {
	case <-ctx.Done():
		// reap a connection that completes after we stopped waiting
		go func() {
			if r := <-ch; r.err == nil {
				r.api.Client.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		api = r.api
	}

	conn := &rpcConnection{
		api:      api,
		endpoint: endpoint,
		logger:   d.logger.With("endpoint", endpoint),
	}
	if err := conn.handshake(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	return conn, nil
}

// rpcConnection adapts a SubstrateAPI to the Connection interface.
type rpcConnection struct {
	api      *gsrpc.SubstrateAPI
	endpoint string
	logger   *slog.Logger

	meta     *types.Metadata
	snapshot *MetadataSnapshot
	genesis  types.Hash
}

func (c *rpcConnection) handshake(ctx context.Context) error {
	meta, err := await(ctx, c.api.RPC.State.GetMetadataLatest)
	if err != nil {
		return fmt.Errorf("fetch metadata: %w", err)
	}
	rv, err := await(ctx, c.api.RPC.State.GetRuntimeVersionLatest)
	if err != nil {
		return fmt.Errorf("fetch runtime version: %w", err)
	}
	genesis, err := await(ctx, func() (types.Hash, error) {
		return c.api.RPC.Chain.GetBlockHash(0)
	})
	if err != nil {
		return fmt.Errorf("fetch genesis hash: %w", err)
	}

	snapshot, err := snapshotFromMetadata(meta, uint32(rv.SpecVersion))
	if err != nil {
		return err
	}

	c.meta = meta
	c.snapshot = snapshot
	c.genesis = genesis

	c.logger.DebugContext(ctx, "node handshake complete",
		"spec_name", string(rv.SpecName),
		"spec_version", uint32(rv.SpecVersion),
		"genesis", genesis.Hex(),
	)
	return nil
}

func (c *rpcConnection) Endpoint() string {
	return c.endpoint
}

func (c *rpcConnection) Metadata(ctx context.Context) (*MetadataSnapshot, error) {
	if c.snapshot == nil {
		return nil, errors.New("connection has no metadata snapshot")
	}
	return c.snapshot, nil
}

func (c *rpcConnection) Account(ctx context.Context, publicKey []byte) (*AccountInfo, bool, error) {
	key, err := types.CreateStorageKey(c.meta, "System", "Account", publicKey)
	if err != nil {
		return nil, false, fmt.Errorf("create storage key: %w", err)
	}

	type accountResult struct {
		info types.AccountInfo
		ok   bool
	}
	res, err := await(ctx, func() (accountResult, error) {
		var r accountResult
		ok, err := c.api.RPC.State.GetStorageLatest(key, &r.info)
		r.ok = ok
		return r, err
	})
	if err != nil {
		return nil, false, err
	}
	if !res.ok {
		return nil, false, nil
	}

	free := new(big.Int)
	if res.info.Data.Free.Int != nil {
		free.Set(res.info.Data.Free.Int)
	}
	return &AccountInfo{
		Nonce: uint64(res.info.Nonce),
		Free:  free,
	}, true, nil
}

func (c *rpcConnection) SigningContext(ctx context.Context, publicKey []byte) (*SigningContext, error) {
	info, found, err := c.Account(ctx, publicKey)
	if err != nil {
		return nil, fmt.Errorf("fetch nonce: %w", err)
	}
	var nonce uint64
	if found {
		nonce = info.Nonce
	}

	rv, err := await(ctx, c.api.RPC.State.GetRuntimeVersionLatest)
	if err != nil {
		return nil, fmt.Errorf("fetch runtime version: %w", err)
	}

	return &SigningContext{
		Nonce:              nonce,
		GenesisHash:        c.genesis.Hex(),
		BlockHash:          c.genesis.Hex(),
		SpecVersion:        uint32(rv.SpecVersion),
		TransactionVersion: uint32(rv.TransactionVersion),
		Immortal:           true,
	}, nil
}

func (c *rpcConnection) SignExtrinsic(call *CallDescriptor, sc *SigningContext, identity *Identity) (*SignedExtrinsic, error) {
	dest, err := PublicKeyFromAddress(call.Dest)
	if err != nil {
		return nil, err
	}
	addr, err := types.NewMultiAddressFromAccountID(dest)
	if err != nil {
		return nil, fmt.Errorf("encode destination: %w", err)
	}

	rc, err := types.NewCall(c.meta, call.Name(), addr, types.NewUCompact(call.Value))
	if err != nil {
		return nil, fmt.Errorf("encode call %s: %w", call.Name(), err)
	}

	genesis, err := types.NewHashFromHexString(sc.GenesisHash)
	if err != nil {
		return nil, fmt.Errorf("genesis hash: %w", err)
	}
	block, err := types.NewHashFromHexString(sc.BlockHash)
	if err != nil {
		return nil, fmt.Errorf("block hash: %w", err)
	}

	ext := types.NewExtrinsic(rc)
	opts := types.SignatureOptions{
		BlockHash:          block,
		Era:                types.ExtrinsicEra{IsMortalEra: !sc.Immortal},
		GenesisHash:        genesis,
		Nonce:              types.NewUCompactFromUInt(sc.Nonce),
		SpecVersion:        types.U32(sc.SpecVersion),
		Tip:                types.NewUCompactFromUInt(0),
		TransactionVersion: types.U32(sc.TransactionVersion),
	}
	if err := ext.Sign(identity.KeyringPair(), opts); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigning, err)
	}

	encoded, err := codec.Encode(ext)
	if err != nil {
		return nil, fmt.Errorf("encode extrinsic: %w", err)
	}
	sum := blake2b.Sum256(encoded)

	era := "immortal"
	if !sc.Immortal {
		era = "mortal"
	}
	return NewSignedExtrinsic(*call, identity.Address(), sc.Nonce, era,
		types.NewHash(sum[:]).Hex(), codec.HexEncodeToString(encoded), ext), nil
}

func (c *rpcConnection) Submit(ctx context.Context, ext *SignedExtrinsic) (string, error) {
	raw, ok := ext.Raw().(types.Extrinsic)
	if !ok {
		return "", errors.New("extrinsic was not signed by this client")
	}
	hash, err := await(ctx, func() (types.Hash, error) {
		return c.api.RPC.Author.SubmitExtrinsic(raw)
	})
	if err != nil {
		return "", err
	}
	return hash.Hex(), nil
}

func (c *rpcConnection) SubmitAndWatch(ctx context.Context, ext *SignedExtrinsic) (*Inclusion, error) {
	raw, ok := ext.Raw().(types.Extrinsic)
	if !ok {
		return nil, errors.New("extrinsic was not signed by this client")
	}

	sub, err := c.api.RPC.Author.SubmitAndWatchExtrinsic(raw)
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err := <-sub.Err():
			return nil, fmt.Errorf("subscription: %w", err)
		case status := <-sub.Chan():
			switch {
			case status.IsInBlock:
				return &Inclusion{BlockHash: status.AsInBlock.Hex()}, nil
			case status.IsFinalized:
				return &Inclusion{BlockHash: status.AsFinalized.Hex(), Finalized: true}, nil
			case status.IsDropped:
				return nil, errors.New("extrinsic dropped by the node")
			case status.IsInvalid:
				return nil, errors.New("extrinsic rejected as invalid")
			case status.IsUsurped:
				return nil, fmt.Errorf("extrinsic usurped by %s", status.AsUsurped.Hex())
			default:
				c.logger.DebugContext(ctx, "extrinsic status update", "hash", ext.Hash)
			}
		}
	}
}

func (c *rpcConnection) Close() error {
	if c.api != nil && c.api.Client != nil {
		c.api.Client.Close()
	}
	return nil
}

// snapshotFromMetadata collects pallet call names from V14 metadata, where
// each pallet's calls are the variants of a type in the portable registry.
func snapshotFromMetadata(meta *types.Metadata, specVersion uint32) (*MetadataSnapshot, error) {
	if meta == nil {
		return nil, errors.New("empty metadata")
	}
	if meta.Version != 14 {
		return nil, fmt.Errorf("unsupported metadata version %d", meta.Version)
	}

	v14 := meta.AsMetadataV14
	variants := make(map[int64][]string, len(v14.Lookup.Types))
	for _, t := range v14.Lookup.Types {
		if !t.Type.Def.IsVariant {
			continue
		}
		names := make([]string, 0, len(t.Type.Def.Variant.Variants))
		for _, v := range t.Type.Def.Variant.Variants {
			names = append(names, string(v.Name))
		}
		variants[t.ID.Int64()] = names
	}

	calls := make(map[string][]string)
	for _, p := range v14.Pallets {
		if !p.HasCalls {
			continue
		}
		calls[string(p.Name)] = variants[p.Calls.Type.Int64()]
	}
	return NewMetadataSnapshot(specVersion, calls), nil
}

// await runs a blocking client call and stops waiting when ctx is done.
// The client has no context support, so the call itself keeps running.
func await[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v: v, err: err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}
