// Package config loads and validates the federation service configuration.
//
// Settings come from environment variables, optionally layered over a YAML
// file, using cleanenv struct tags:
//
//	cfg, err := config.LoadFederationConfig("")
//	if err != nil {
//		return err
//	}
//	factory := federation.NewProviderFactory(cfg.ProviderDefaults(),
//		federation.WithTableMapping(cfg.Table),
//		federation.WithAutoMigrate(cfg.AutoMigrate))
//
// Postgres drivers use FEDERATION_URL when set and otherwise build a URL from
// the FEDERATION_PG_* settings. Credentials are kept out of the URL and given
// to the store separately through FEDERATION_USERNAME and FEDERATION_PASSWORD.
//
// Validation helpers collect every problem instead of stopping at the first:
//
//	err := config.Validate(func() config.ValidationErrors {
//		return config.CollectErrors(
//			config.RequireNonEmpty("provider_id", id),
//			config.RequireValidPort("http.port", port),
//		)
//	})
package config
