package entity

// OutputLink references one converted artifact via a time-limited signed URL.
type OutputLink struct {
	FileName string
	URL      string
}

// Outcome is the terminal result of executing a JobRequest. It decides
// whether the queue message is dead-lettered and which notification templates
// are rendered; it carries any captured converter diagnostics for the
// operator notification.
type Outcome struct {
	Succeeded  bool
	Err        string
	ToolOutput string
	Results    []OutputLink
}

func Success(results []OutputLink) Outcome {
	return Outcome{Succeeded: true, Results: results}
}

func Failure(errMsg, toolOutput string) Outcome {
	return Outcome{Err: errMsg, ToolOutput: toolOutput}
}
