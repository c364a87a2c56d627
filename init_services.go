package main

import (
	"github.com/benbjohnson/clock"

	"github.com/akinalp/threadline/config"
	"github.com/akinalp/threadline/pkg/metrics"
	"github.com/akinalp/threadline/services"
)

// Services holds every service instance.
type Services struct {
	Message  services.MessageService
	Thread   services.ThreadService
	Pin      services.PinService
	Reaction services.ReactionService
	Typing   services.TypingService
	Profile  services.ProfileService
	Token    services.TokenService
}

// initServices builds the services. Thread replies and reaction toggles
// share one retry policy so their retries land in the same metrics.
func initServices(cfg *config.Config, repos *Repositories, m *metrics.Metrics, clk clock.Clock) *Services {
	retry := services.RetryPolicy{
		Attempts:  cfg.Messages.ThreadRetryAttempts,
		BaseDelay: cfg.Messages.ThreadRetryBaseDelay,
		Clock:     clk,
		Metrics:   m,
	}

	return &Services{
		Message:  services.NewMessageService(repos.Message, cfg.Messages.MaxLength, clk),
		Thread:   services.NewThreadService(repos.Message, retry, cfg.Messages.MaxLength, clk),
		Pin:      services.NewPinService(repos.Pin, repos.Message, cfg.Messages.PinLimit, m, clk),
		Reaction: services.NewReactionService(repos.Message, retry),
		Typing:   services.NewTypingService(repos.Typing, clk),
		Profile:  services.NewProfileService(repos.Profile),
		Token:    services.NewTokenService(cfg.JWT.Secret, clk),
	}
}
