package prompts

// CappedResponse is returned to the user when a turn exhausts its
// model-call budget without a final answer.
const CappedResponse = "Stopped: too many tool steps. Try a smaller request."

// ContextBlock renders retrieved context for the prompt. The block is
// always present so the model can tell "nothing relevant" from "not
// looked up".
func ContextBlock(retrieved string) string {
	if retrieved == "" {
		return "Retrieved context: (none)"
	}
	return "Retrieved context:\n" + retrieved
}
