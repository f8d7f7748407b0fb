package superstep

// MasterObserver is a master-compute-phase hook registered by
// configuration (MASTER_OBSERVER_CLASSES in spec.md §6), replacing the
// source's reflected-class hook list with a slice of concrete values.
// PreApplication/PostApplication bracket the whole job; PreSuperstep and
// PostSuperstep bracket every superstep, including the single
// input-splits superstep that loads the graph.
type MasterObserver interface {
	PreApplication()
	PostApplication()
	PreSuperstep(superstep int64)
	PostSuperstep(superstep int64)
}

func (c *Controller) firePreApplication() {
	for _, o := range c.Observers {
		o.PreApplication()
	}
}

func (c *Controller) firePostApplication() {
	for _, o := range c.Observers {
		o.PostApplication()
	}
}

func (c *Controller) firePreSuperstep(superstep int64) {
	for _, o := range c.Observers {
		o.PreSuperstep(superstep)
	}
}

func (c *Controller) firePostSuperstep(superstep int64) {
	for _, o := range c.Observers {
		o.PostSuperstep(superstep)
	}
}
