package prompts

var (
	// VOICE_ASSISTANT seeds sessions whose start message carries no
	// system instruction. DEFAULT_SYSTEM_INSTRUCTION overrides it.
	VOICE_ASSISTANT = SYS_PROMPT{
		Intent:         "Voice",
		CurrentVersion: 0.2,
		Items: map[float32]PromptDefinition{
			0.1: {
				Version: 0.1,
				Content: `
				You are a friendly, helpful voice assistant.
				Keep answers short and conversational.
				`,
			},
			0.2: {
				Version: 0.2,
				Content: `
				You are a friendly, helpful voice assistant talking with the user
				in real time. Keep answers short and conversational, speak naturally,
				and stop promptly when the user interrupts.
				`,
			},
		},
	}
)
