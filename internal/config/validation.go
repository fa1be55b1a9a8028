package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if err := c.Telegram.validate(); err != nil {
		return err
	}
	if err := c.Interpreter.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Broker.validate(); err != nil {
		return err
	}
	return nil
}

func (t *TelegramConfig) validate() error {
	if !t.Enabled {
		return nil
	}
	if strings.TrimSpace(t.BotToken) == "" {
		return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
	}
	if len(t.Channels) == 0 {
		return fmt.Errorf("telegram.channels requires at least one allowed channel")
	}
	return nil
}

func (i *InterpreterConfig) validate() error {
	if len(i.Models) == 0 {
		return fmt.Errorf("interpreter.models requires at least one model")
	}
	for _, m := range i.Models {
		if strings.TrimSpace(m) == "" {
			return fmt.Errorf("interpreter.models contains an empty entry")
		}
	}
	if i.Temperature < 0 || i.Temperature > 2 {
		return fmt.Errorf("interpreter.temperature must be within [0, 2]")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.ConfidenceFloor < 0 || r.ConfidenceFloor > 1 {
		return fmt.Errorf("risk.confidence_floor must be within [0, 1]")
	}
	if r.DrawdownCeiling < 0 || r.DrawdownCeiling > 1 {
		return fmt.Errorf("risk.drawdown_ceiling must be within [0, 1]")
	}
	if r.AnomalyThreshold < 0 || r.AnomalyThreshold > 1 {
		return fmt.Errorf("risk.anomaly_threshold must be within [0, 1]")
	}
	if r.MaxNotional < 0 || r.DailyLossLimit < 0 {
		return fmt.Errorf("risk limits cannot be negative")
	}
	return nil
}

func (b *BrokerConfig) validate() error {
	switch b.Mode {
	case "paper":
		return nil
	case "http":
		if strings.TrimSpace(b.APIURL) == "" {
			return fmt.Errorf("broker.api_url is required in http mode")
		}
		return nil
	default:
		return fmt.Errorf("broker.mode must be paper or http, got %q", b.Mode)
	}
}
