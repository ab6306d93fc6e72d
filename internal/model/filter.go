package model

// ChipFilter narrows ListChips results. Zero values mean "no constraint".
type ChipFilter struct {
	Status          []ChipStatus
	CustomerRef     string
	OrderRef        string
	ControlPointRef string
	UID             string
	Sort            string // column name, "-" prefix for descending
	Limit           int
	Offset          int
}
