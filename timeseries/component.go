package timeseries

// Component is a domain entity that may own time series and compose other
// components. The entity layer defines the concrete types; the storage and
// indexing core only needs identity.
type Component interface {
	// ComponentID returns the entity's unique identifier.
	ComponentID() int64

	// ComponentType returns the entity's type discriminator.
	ComponentType() string
}

// Composite is implemented by component types that compose other components.
//
// SubComponents returns the components held in the type's direct-value and
// list-valued fields. Components nested inside maps or other container
// shapes must not be included; the association index only tracks direct
// structural references.
type Composite interface {
	Component

	// SubComponents returns the directly attached components.
	SubComponents() []Component
}
