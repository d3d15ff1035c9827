package quadtree

const (
	// ErrTypeInvalidConfiguration is the type of the errors returned when a
	// tree or a pool is built with unusable parameters.
	ErrTypeInvalidConfiguration = "quadtree_invalid_configuration"

	// ErrTypeInvalidArgument is the type of the errors returned when a query
	// is made with out of range parameters.
	ErrTypeInvalidArgument = "quadtree_invalid_argument"
)
