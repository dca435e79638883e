// Package llm provides the model backends agents talk to.
//
// # Local Backend
//
// Local talks to an OpenAI-compatible server on the local network (Ollama,
// LM Studio). The address defaults to OLLAMA_HOST and OLLAMA_PORT:
//
//	local := llm.NewLocal(llm.WithModel("llama3.1"))
//	reply := local.SendRequest(ctx, turns, "You are a builder.", nil)
//
// SendRequest never fails. An unreachable server, a truncated reasoning block
// or an HTTP error all come back as reply text, so agents can keep talking:
//
//   - replies that open a <think> block without closing it are regenerated,
//     up to five times
//   - replies that only close the block get the opening delimiter added
//   - complete <think> blocks are stripped
//   - a conversation rejected for its context length is retried without its
//     oldest turn until it fits or a single turn is left
//
// # Cloud Backend
//
// Cloud streams from a hosted provider, Groq by default, using
// GROQCLOUD_API_KEY:
//
//	cloud := llm.NewCloud(llm.WithModel("llama-3.3-70b-versatile"))
//	reply := cloud.SendVisionRequest(ctx, turns, "What do you see?", jpeg)
//
// # Capabilities
//
// Every backend implements Client. Optional capabilities are separate
// interfaces checked with a type assertion:
//
//	if hc, ok := backend.(llm.HealthChecker); ok {
//	    status := hc.CheckHealth(ctx)
//	}
package llm
