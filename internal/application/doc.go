// Package application realizes schemas into running applications and
// drives them: submitting work, polling deferred conditions and tearing
// them down.
//
// A Builder pairs a launch strategy with a shared control hub. Realize
// spawns the unit, binds it to a console and fires the realized
// lifecycle event; Destroy reverses all of it exactly once.
package application
