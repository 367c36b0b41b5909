package profile

import "github.com/linkplay-community/linkplay-go/pkg/model"

// LoopMode is a decoded (shuffle, repeat) pair. Nil fields mean the raw
// value is outside the scheme's table; raw values are never rejected.
type LoopMode struct {
	Shuffle *bool
	Repeat  *model.Repeat
}

func loop(shuffle bool, repeat model.Repeat) LoopMode {
	return LoopMode{Shuffle: model.Ptr(shuffle), Repeat: model.Ptr(repeat)}
}

// Rows 0..4 are common to every scheme observed in the wild. Raw 5 differs:
// Arylic firmware uses it for shuffle+repeat-one, while WiiM firmware emits
// it as a synonym for 4 (semantics unconfirmed; treated as plain off).
var commonLoopTable = map[int]LoopMode{
	0: loop(false, model.RepeatAll),
	1: loop(false, model.RepeatOne),
	2: loop(true, model.RepeatAll),
	3: loop(true, model.RepeatOff),
	4: loop(false, model.RepeatOff),
}

// DecodeLoopMode maps a raw loopmode value through the scheme's table.
func DecodeLoopMode(scheme Scheme, raw int) LoopMode {
	if mode, ok := commonLoopTable[raw]; ok {
		return mode
	}
	if raw == 5 {
		switch scheme {
		case SchemeArylic:
			return loop(true, model.RepeatOne)
		case SchemeWiiM:
			return loop(false, model.RepeatOff)
		}
	}
	return LoopMode{}
}

// EncodeLoopMode maps a (shuffle, repeat) pair to the raw value the scheme's
// setPlayerCmd:loopmode expects. exact is false when the scheme has no slot
// for the pair and the nearest same-shuffle value was chosen instead
// (shuffle+repeat-one outside the Arylic scheme degrades to repeat-all).
func EncodeLoopMode(scheme Scheme, shuffle bool, repeat model.Repeat) (raw int, exact bool) {
	switch {
	case !shuffle && repeat == model.RepeatAll:
		return 0, true
	case !shuffle && repeat == model.RepeatOne:
		return 1, true
	case shuffle && repeat == model.RepeatAll:
		return 2, true
	case shuffle && repeat == model.RepeatOff:
		return 3, true
	case !shuffle && repeat == model.RepeatOff:
		return 4, true
	case shuffle && repeat == model.RepeatOne:
		if scheme == SchemeArylic {
			return 5, true
		}
		return 2, false
	}
	return 0, false
}
