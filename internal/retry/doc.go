// Package retry turns classified failures into job transitions. Transient
// failures back off exponentially with jitter until the retry budget runs
// out, resource failures park without consuming the budget until the
// governor signals capacity, and fatal failures dead-letter immediately.
package retry
