// Copyright 2026 The Hive Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llms

import (
	"fmt"

	"github.com/mcphive/hive/config"
)

// NewProvider builds a provider from a model configuration, dispatching on
// the wire driver. Unknown drivers are a configuration error, not a fallback.
func NewProvider(cfg config.ModelConfig) (Provider, error) {
	switch cfg.Driver {
	case config.DriverAnthropic:
		return NewAnthropicProvider(cfg)
	case config.DriverOpenAI:
		return NewOpenAIProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown model driver %q for model %q", cfg.Driver, cfg.ID)
	}
}
