package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:  "~/.wordchat",
			LogLevel: "info",
		},
		Providers: ProvidersConfig{
			Primary: PrimaryProviderConfig{
				Enabled:        true,
				Label:          "PLI 7",
				APIBase:        "https://fhf567456745.pythonanywhere.com/r/",
				TimeoutSeconds: 20,
			},
			Secondary: SecondaryProviderConfig{
				Enabled:        true,
				Label:          "Gemini",
				Model:          "gemini-flash-lite-latest",
				TimeoutSeconds: 30,
			},
		},
		Arbiter: ArbiterConfig{
			UnhelpfulPrefixes:  DefaultUnhelpfulPrefixes(),
			ContextMessages:    10,
			OfflineMessage:     "Offline.",
			SystemInstructions: "Answer shortly (min 5 max 20 sentences). Assume images are displayed above you.",
		},
		Dispatch: DispatchConfig{
			HandlerTimeoutSeconds: 15,
			Commands:              DefaultCommands(),
		},
		Commands: CommandsConfig{
			Weather: WeatherConfig{
				APIBase:        "https://api.weatherapi.com/v1",
				TimeoutSeconds: 10,
			},
			Wiki: WikiConfig{
				APIBase:        "https://en.wikipedia.org",
				TimeoutSeconds: 10,
				CooldownMs:     2000,
			},
			Mirror: MirrorConfig{
				ProxyBase: "http://sd130.pythonanywhere.com/proxy?url=",
			},
			Visualize: VisualizeConfig{
				DefaultModel: "https://modelviewer.dev/shared-assets/models/Astronaut.glb",
				ViewerScript: "https://ajax.googleapis.com/ajax/libs/model-viewer/3.4.0/model-viewer.min.js",
			},
		},
		Storage: StorageConfig{
			Backend:   "sqlite",
			Namespace: "pli7data",
			DBPath:    "~/.wordchat/wordchat.db",
			FileDir:   "~/.wordchat/store",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "wordchat:",
			},
		},
		Reminders: RemindersConfig{
			Enabled:             true,
			Key:                 "chatReminders",
			PollIntervalSeconds: 10,
		},
		Agent: AgentConfig{
			MaxConcurrentMessages: 5,
			RatePerMinute:         30,
			RateBurst:             5,
		},
		Channels: ChannelsConfig{
			Web: WebConfig{
				Enabled: true,
				Host:    "127.0.0.1",
				Port:    8080,
			},
			CLI: CLIConfig{
				Enabled: true,
				Render:  true,
			},
			WebSocket: WebSocketConfig{
				Enabled: false,
				Path:    "/ws",
			},
			Telegram: TelegramConfig{
				Enabled:   false,
				ParseMode: "Markdown",
			},
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}

// DefaultUnhelpfulPrefixes are answer openings that mark a primary reply as a non-answer.
func DefaultUnhelpfulPrefixes() []string {
	return []string{
		"I'm not sure about",
		"I couldn't solve",
		"That's a great question",
	}
}

// DefaultCommands is the static trigger table.
func DefaultCommands() map[string]string {
	return map[string]string{
		"weather":   "weather",
		"remind":    "reminder",
		"remember":  "reminder",
		"mirror":    "mirror",
		"visualize": "visualize",
		"timer":     "timer",
	}
}
