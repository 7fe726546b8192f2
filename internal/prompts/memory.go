package prompts

import "fmt"

// MemoryExtractionSystem asks the model for durable facts about the
// user worth recalling in later conversations.
const MemoryExtractionSystem = `Extract durable user memories from the exchange.
Only output a JSON array. Each item:
{"kind": "profile|preference|farm_context|fact", "content": "...", "confidence": 0-1}
Rules:
- Only store stable, reusable info (farm size, crops, equipment, preferred units).
- Do NOT store sensitive data (credentials, financial or health details).
- If nothing, output [].`

// MemoryExtractionUser renders one exchange for memory extraction.
func MemoryExtractionUser(userText, assistantText string) string {
	return fmt.Sprintf("USER: %s\nASSISTANT: %s", userText, assistantText)
}
