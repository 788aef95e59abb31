package utils

import "github.com/schollz/progressbar/v3"

// Standard progress bar descriptions
const (
	DescDownloading = "Downloading"
	DescCloning     = "Cloning"
	DescExtracting  = "Extracting"
	DescScanning    = "Scanning"
)

// NewProgressBar creates a consistently styled progress bar.
//
// Parameters:
//   - total: Total number of items. Use -1 for unknown totals (indeterminate/spinner mode).
//   - description: Text description to show before the progress bar (e.g., DescScanning).
//
// Behavior:
//   - For unknown totals (total < 0): Uses spinner type 14 with blank state rendering.
//   - For known totals (total >= 0): Shows count and iterations/second (its).
//   - All progress bars show count.
//
// Example:
//
//	bar := utils.NewProgressBar(-1, utils.DescScanning)
//	defer bar.Finish()
//
//	for file := range files {
//	    bar.Add(1)
//	}
func NewProgressBar(total int, description string) *progressbar.ProgressBar {
	opts := []progressbar.Option{
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
	}

	if total < 0 {
		opts = append(opts,
			progressbar.OptionSpinnerType(14),
			progressbar.OptionSetRenderBlankState(true),
		)
	} else {
		opts = append(opts,
			progressbar.OptionShowIts(),
		)
	}

	return progressbar.NewOptions(total, opts...)
}

// StageDescription maps a pipeline stage name to a progress description
func StageDescription(stage string) string {
	switch stage {
	case "retrieve":
		return DescDownloading
	case "clone":
		return DescCloning
	case "extract":
		return DescExtracting
	default:
		return DescScanning
	}
}
