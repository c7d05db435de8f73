// Package sdkplay is the invocation engine of an SDK playground.
//
// A Catalog holds one APIDescriptor per invocable SDK operation. An operator
// picks a descriptor, edits raw parameter values, and a Dispatcher turns
// them into typed arguments, calls the live SDK object selected by the
// descriptor's instance tag and stores the result in the Session's VarStore
// under the descriptor's return-binding name.
//
// Later invocations refer to stored results with placeholder tokens:
//
//	sendMessage(msg = "[[__message]]")
//
// receives the value captured by an earlier createTextMessage, not the
// literal token. Executable parameters are compiled by an Evaluator; see the
// jseval package.
package sdkplay
