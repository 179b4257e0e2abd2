package forecast

import (
	"fmt"

	apperrors "divorcecast/internal/errors"
	"divorcecast/internal/series"
)

// CapFactor scales the observed maximum into the saturation cap.
const CapFactor = 1.2

// Prepare attaches the saturation bounds used by logistic growth:
// Cap = CapFactor x max(value) and Floor = 0.
func Prepare(s series.Observed) (series.Bounded, error) {
	max, ok := s.Max()
	if !ok {
		return series.Bounded{}, apperrors.NewDataError(fmt.Sprintf("%s: cannot derive a cap from an empty series", s.Name))
	}
	return series.Bounded{Observed: s, Cap: CapFactor * max, Floor: 0}, nil
}
