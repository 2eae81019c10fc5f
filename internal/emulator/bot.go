// ABOUTME: Bot configuration (.bot) file model and loading
// ABOUTME: A bot file names the bot and lists its services; we care about endpoint services

package emulator

import (
	"encoding/json"
	"fmt"
	"os"
)

// ServiceTypeEndpoint marks a messaging endpoint entry in a bot file.
const ServiceTypeEndpoint = "endpoint"

// BotService is one service entry in a bot configuration file.
type BotService struct {
	Type        string `json:"type"`
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	AppID       string `json:"appId,omitempty"`
	AppPassword string `json:"appPassword,omitempty"`
}

// BotFile is a .bot configuration file.
type BotFile struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Path        string       `json:"path,omitempty"`
	Services    []BotService `json:"services"`
}

// EndpointService returns the bot's first endpoint service, nil when the
// file declares none.
func (b *BotFile) EndpointService() *BotService {
	for i := range b.Services {
		if b.Services[i].Type == ServiceTypeEndpoint {
			return &b.Services[i]
		}
	}
	return nil
}

// LoadBotFile reads and parses a .bot configuration file from disk.
func LoadBotFile(path string) (*BotFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bot file: %w", err)
	}

	var bot BotFile
	if err := json.Unmarshal(data, &bot); err != nil {
		return nil, fmt.Errorf("parsing bot file %s: %w", path, err)
	}
	bot.Path = path
	return &bot, nil
}
