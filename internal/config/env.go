package config

import "github.com/caarlos0/env/v11"

// Env holds process-level runtime settings. The YAML config carries domain
// policy; secrets and addresses come from the environment.
type Env struct {
	Addr            string `env:"SEOHUB_ADDR" envDefault:":8080"`
	RedisAddr       string `env:"SEOHUB_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword   string `env:"SEOHUB_REDIS_PASSWORD"`
	JWTSecret       string `env:"SEOHUB_JWT_SECRET"`
	WebhookAPIKey   string `env:"SEOHUB_WEBHOOK_API_KEY"`
	EmailGatewayURL string `env:"SEOHUB_EMAIL_GATEWAY_URL"`
}

// LoadEnv parses runtime settings from the environment.
func LoadEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, err
	}
	return e, nil
}
