package metrics

import "piimask/internal/detect"

func isNERFailure(outcome string) bool {
	switch outcome {
	case detect.NERUnavailable, detect.NERTimeout, detect.NERError:
		return true
	}
	return false
}
