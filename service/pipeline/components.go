package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/brojonat/voxpay/service/config"
	"github.com/brojonat/voxpay/service/metrics"
	"github.com/brojonat/voxpay/service/substrate"
)

// NewComponents derives the signer and wires the chain components from
// cfg. The dialer is injected so tests and binaries can choose transport.
func NewComponents(cfg *config.Config, dialer substrate.Dialer, m *metrics.Metrics, logger *slog.Logger) (Components, error) {
	if err := cfg.RequireSigner(); err != nil {
		return Components{}, fmt.Errorf("%w: %w", substrate.ErrInvalidPhrase, err)
	}
	identity, err := substrate.DeriveIdentity(cfg.SecretPhrase, cfg.SS58Prefix)
	if err != nil {
		return Components{}, err
	}

	chainLogger := logger.With("component", "substrate")
	reader := substrate.NewReader(cfg.QueryTimeout, m, chainLogger)

	return Components{
		Identity:  identity,
		Connector: substrate.NewConnector(dialer, cfg.DialTimeout, m, chainLogger),
		Reader:    reader,
		Composer: substrate.NewComposer(reader, substrate.ComposerConfig{
			Module:       cfg.TransferModule,
			Function:     cfg.TransferFunction,
			Decimals:     cfg.TokenDecimals,
			QueryTimeout: cfg.QueryTimeout,
		}, m, chainLogger),
		Submitter: substrate.NewSubmitter(cfg.SubmitTimeout, m, chainLogger),
	}, nil
}
