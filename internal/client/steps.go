package client

// DoneLabel is shown once the job completed.
const DoneLabel = "Done!"

// StepLabel maps a progress value to the text shown next to the progress bar.
// The bands are cosmetic: nothing may branch on the label.
func StepLabel(progress int) string {
	switch {
	case progress < 7:
		return "Reading receipt..."
	case progress < 10:
		return "Loading your items..."
	case progress < 55:
		return "Analyzing items..."
	case progress < 90:
		return "Cleaning up results..."
	default:
		return "Finishing up..."
	}
}
