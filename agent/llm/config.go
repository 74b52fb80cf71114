package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/MLAN1O/atlas/agent/contract"
	openrouterx "github.com/MLAN1O/atlas/pkg/openrouter"
)

// Role selects per-unit model overrides.
type Role string

const (
	RoleOrchestrator Role = "orchestrator"
	RoleSQL          Role = "sql"
	RoleReport       Role = "report"
)

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"60s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	// Requests per second across all reasoning calls of the process.
	RateLimit float64 `envconfig:"RATE_LIMIT" split_words:"true" default:"2"`
	RateBurst int     `envconfig:"RATE_BURST" split_words:"true" default:"4"`

	// Messages sent to the orchestrator per call; 0 sends the whole conversation.
	MaxHistory int `envconfig:"MAX_HISTORY" split_words:"true" default:"0"`

	OrchestratorModel       string  `envconfig:"ORCHESTRATOR_MODEL" split_words:"true"`
	SQLModel                string  `envconfig:"SQL_MODEL" split_words:"true"`
	ReportModel             string  `envconfig:"REPORT_MODEL" split_words:"true"`
	OrchestratorTemperature float32 `envconfig:"ORCHESTRATOR_TEMPERATURE" split_words:"true" default:"-1"`
	SQLTemperature          float32 `envconfig:"SQL_TEMPERATURE" split_words:"true" default:"-1"`
	ReportTemperature       float32 `envconfig:"REPORT_TEMPERATURE" split_words:"true" default:"-1"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: llm api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	return nil
}

func (c Config) OpenRouterFor(role Role) openrouterx.Config {
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature

	override := func(m string, t float32) {
		if v := strings.TrimSpace(m); v != "" {
			modelName = v
		}
		if t >= 0 {
			temp = t
		}
	}
	switch role {
	case RoleOrchestrator:
		override(c.OrchestratorModel, c.OrchestratorTemperature)
	case RoleSQL:
		override(c.SQLModel, c.SQLTemperature)
	case RoleReport:
		override(c.ReportModel, c.ReportTemperature)
	}

	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        temp,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}
