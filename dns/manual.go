package dns

import (
	"context"

	"go.uber.org/zap"
)

func init() {
	RegisterProvider("manual", newManual)
}

// manualProvider is for operators who manage DNS themselves. It only
// logs the record the operator needs to publish; the enrollment flow
// gives out-of-band providers extra settle time before validation.
type manualProvider struct {
	log *zap.Logger
}

func newManual(_ context.Context, conf Config) (Provider, error) {
	return &manualProvider{log: conf.Logger}, nil
}

func (p *manualProvider) OutOfBand() bool { return true }

func (p *manualProvider) CreateRecord(_ context.Context, record, value string) error {
	p.log.Info("publish this TXT record with your DNS provider",
		zap.String("record", record),
		zap.String("value", value))
	return nil
}

func (p *manualProvider) DeleteRecord(_ context.Context, record, value string) error {
	p.log.Info("the TXT record can now be removed",
		zap.String("record", record),
		zap.String("value", value))
	return nil
}
