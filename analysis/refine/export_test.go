package refine

var PrecisionOf = precisionOf
