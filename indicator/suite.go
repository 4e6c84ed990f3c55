package indicator

import "github.com/evdnx/goti"

// RSI and MFI are delegated to the goti indicator suite. A fresh suite is
// built per evaluation and fed the window bar by bar, so the computation
// stays a pure function of the window despite the suite being a streaming
// type. Periods follow the suite defaults.

// minOscillatorBars mirrors the warm-up the suite needs before its
// oscillators produce stable values.
const minOscillatorBars = 15

func feedSuite(w Window) (*goti.IndicatorSuite, error) {
	suite, err := goti.NewIndicatorSuiteWithConfig(goti.DefaultConfig())
	if err != nil {
		return nil, err
	}
	for _, b := range w.Bars {
		if err := suite.Add(b.High, b.Low, b.Close, b.Volume); err != nil {
			return nil, err
		}
	}
	return suite, nil
}

func evalRSI(w Window) (Value, error) {
	if len(w.Bars) < minOscillatorBars {
		return Value{}, ErrInsufficientData
	}
	suite, err := feedSuite(w)
	if err != nil {
		return Value{}, err
	}
	v, err := suite.GetRSI().Calculate()
	if err != nil {
		return Value{}, ErrInsufficientData
	}
	return NewScalar(v), nil
}

func evalMFI(w Window) (Value, error) {
	if len(w.Bars) < minOscillatorBars {
		return Value{}, ErrInsufficientData
	}
	suite, err := feedSuite(w)
	if err != nil {
		return Value{}, err
	}
	v, err := suite.GetMFI().Calculate()
	if err != nil {
		return Value{}, ErrInsufficientData
	}
	return NewScalar(v), nil
}
