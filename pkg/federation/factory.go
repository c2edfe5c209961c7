package federation

import (
	"context"
	"log/slog"

	"github.com/tendant/simple-federation/pkg/attribute"
	"github.com/tendant/simple-federation/pkg/errors"
	"github.com/tendant/simple-federation/pkg/userstore"
)

// FactoryID identifies the SQL user provider
const FactoryID = "sql-user-provider"

// Component configuration keys
const (
	ConfigDriver   = "driver"
	ConfigURL      = "url"
	ConfigUsername = "username"
	ConfigPassword = "password"
	ConfigDataDir  = "dataDir"
)

// ConfigProperty describes one configurable setting of the provider
type ConfigProperty struct {
	Name         string `json:"name"`
	Label        string `json:"label"`
	HelpText     string `json:"helpText"`
	Type         string `json:"type"`
	DefaultValue string `json:"defaultValue,omitempty"`
	Secret       bool   `json:"secret,omitempty"`
}

// FactoryOption configures a ProviderFactory
type FactoryOption func(*ProviderFactory)

// WithStoreMetrics instruments every store the factory opens
func WithStoreMetrics(metrics *userstore.StoreMetrics) FactoryOption {
	return func(f *ProviderFactory) {
		f.metrics = metrics
	}
}

// WithTableMapping sets the external table layout used by the postgres and gorm drivers
func WithTableMapping(mapping userstore.TableMapping) FactoryOption {
	return func(f *ProviderFactory) {
		f.table = mapping
	}
}

// WithAutoMigrate applies the reference schema when a store is opened
func WithAutoMigrate(enabled bool) FactoryOption {
	return func(f *ProviderFactory) {
		f.autoMigrate = enabled
	}
}

// ProviderFactory creates providers from component models. Defaults fill in
// settings a model leaves unset.
type ProviderFactory struct {
	defaults    map[string]string
	metrics     *userstore.StoreMetrics
	table       userstore.TableMapping
	autoMigrate bool
}

// NewProviderFactory creates a factory with the given default settings
func NewProviderFactory(defaults map[string]string, opts ...FactoryOption) *ProviderFactory {
	f := &ProviderFactory{
		defaults: make(map[string]string, len(defaults)),
	}
	for k, v := range defaults {
		f.defaults[k] = v
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ID returns FactoryID
func (f *ProviderFactory) ID() string { return FactoryID }

// HelpText describes the provider for administrators
func (f *ProviderFactory) HelpText() string {
	return "SQL User Storage Provider"
}

// ConfigProperties lists the settings a component model may carry
func (f *ProviderFactory) ConfigProperties() []ConfigProperty {
	return []ConfigProperty{
		{Name: ConfigDriver, Label: "Driver", HelpText: "Store driver: memory, file, postgres, gorm-postgres or gorm-sqlite", Type: "String", DefaultValue: f.defaults[ConfigDriver]},
		{Name: ConfigURL, Label: "Connection URL", HelpText: "Database connection URL", Type: "String", DefaultValue: f.defaults[ConfigURL]},
		{Name: ConfigUsername, Label: "DB Username", HelpText: "DB Username", Type: "String", DefaultValue: f.defaults[ConfigUsername]},
		{Name: ConfigPassword, Label: "DB Password", HelpText: "DB Password", Type: "Password", Secret: true},
		{Name: ConfigDataDir, Label: "Data directory", HelpText: "Directory of the file driver", Type: "String", DefaultValue: f.defaults[ConfigDataDir]},
	}
}

func (f *ProviderFactory) setting(model ComponentModel, key string) string {
	if v, ok := model.Config[key]; ok && v != "" {
		return v
	}
	return f.defaults[key]
}

// Create opens the store described by model and returns a provider over it
func (f *ProviderFactory) Create(ctx context.Context, model ComponentModel) (*Provider, error) {
	if err := ValidateProviderID(model.ID); err != nil {
		return nil, err
	}

	driver := f.setting(model, ConfigDriver)
	if driver == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "driver is required")
	}
	config := userstore.RepositoryConfig{
		URL:         f.setting(model, ConfigURL),
		Username:    f.setting(model, ConfigUsername),
		Password:    f.setting(model, ConfigPassword),
		DataDir:     f.setting(model, ConfigDataDir),
		Table:       f.table,
		AutoMigrate: f.autoMigrate,
	}

	store, err := userstore.NewStore(ctx, driver, config)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeStoreUnavailable) {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "failed to open user store")
	}

	attrs, err := attributeStoreFor(store, config)
	if err != nil {
		_ = store.Close()
		return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "failed to open attribute store")
	}

	if f.metrics != nil {
		store = userstore.NewInstrumentedStore(store, f.metrics)
	}

	slog.Info("Created federation provider", "provider_id", model.ID, "driver", driver)
	return NewProvider(model, store, attrs)
}

// attributeStoreFor keeps generic attributes next to the users where the
// backend allows it
func attributeStoreFor(store userstore.Store, config userstore.RepositoryConfig) (attribute.Store, error) {
	switch s := store.(type) {
	case *userstore.PostgresStore:
		return attribute.NewPostgresStore(s.Pool()), nil
	case *userstore.FileStore:
		return attribute.NewFileStore(config.DataDir)
	default:
		return attribute.NewInMemoryStore(), nil
	}
}

// Close releases factory resources
func (f *ProviderFactory) Close() error {
	slog.Info("Closing provider factory", "factory_id", FactoryID)
	return nil
}
