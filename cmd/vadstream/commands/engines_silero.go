//go:build silero

package commands

import (
	"github.com/MrWong99/vadstream/internal/config"
	"github.com/MrWong99/vadstream/pkg/provider/vad"
	"github.com/MrWong99/vadstream/pkg/provider/vad/silero"
)

func init() {
	engineFactories["silero"] = func(c config.VADConfig) (vad.Engine, error) {
		return silero.New(c.ModelPath)
	}
}
