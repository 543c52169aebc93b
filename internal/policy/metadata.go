package policy

import "github.com/jra3/groupcore/internal/model"

// maxLenByAttr gives the length bound for each bounded attribute key.
var maxLenByAttr = map[string]int{
	model.AttrGroupName:      model.MaxGroupNameLen,
	model.AttrDescription:    model.MaxDescriptionLen,
	model.AttrImageURLSquare: model.MaxImageURLLen,
}

// ValidateMetadataValue enforces the per-attribute length bound, returning
// a TooManyCharactersError (spec.md §4.6) when value exceeds it. Attributes
// with no registered bound (e.g. disappearing-message windows, which are
// numeric) are unconstrained here.
func ValidateMetadataValue(attr, value string) error {
	max, bounded := maxLenByAttr[attr]
	if !bounded {
		return nil
	}
	if len(value) > max {
		return &model.TooManyCharactersError{Field: attr, Length: len(value), MaxAllowed: max}
	}
	return nil
}

// ValidateMetadataUpdate validates every key/value pair in an update batch,
// returning the first violation encountered.
func ValidateMetadataUpdate(update map[string]string) error {
	for attr, value := range update {
		if err := ValidateMetadataValue(attr, value); err != nil {
			return err
		}
	}
	return nil
}
