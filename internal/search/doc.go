// Package search finds linear trajectories of faint moving sources in a
// psi/phi image stack.
//
// GridSearch scores every origin pixel against an angle × speed velocity
// grid and keeps the best MaxResults candidates. RegionEngine runs a
// best-first branch and bound over pooled image pyramids instead: blocks of
// origin pixels carry an upper bound on the likelihood of anything inside
// them, so blocks that cannot reach MinLH are discarded without visiting
// their pixels.
//
// Both searches hand their hot loops to an Evaluator. Evaluations read only
// shared immutable inputs and write only their own chunk of output, and
// every ranking breaks likelihood ties on a stable key, so results do not
// depend on the backend or on the order work completes in.
package search
