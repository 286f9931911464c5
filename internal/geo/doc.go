// Package geo orders business listings by distance from the user or by rating
// and resolves the user's position, falling back to the Istanbul city center
// when no position can be obtained.
package geo
