// Package nn provides the hybrid recurrent network used by the tutor training stack.
//
// A hybrid network is a single dense layer feeding a single LSTM cell:
//   - The dense layer maps the input vector onto a hidden-sized vector
//   - The LSTM cell consumes that vector plus its persistent hidden/cell state
//   - The new hidden state is the network output (truncated or zero-padded)
//
// The dense layer supports the following activations:
//   - Sigmoid: 1 / (1 + exp(-v))
//   - Tanh: tanh(v)
//   - ReLU: max(0, v)
//   - Softmax: exp(v_i) / sum(exp(v))
//   - Linear: v
//
// Example usage:
//
//	network, _ := nn.NewNetwork(10, 5, 3, nn.WithSeed(42))
//	opt, _ := nn.NewOptimizer(nn.OptimizerAdam, nn.DefaultOptimizerConfig())
//
//	output, _ := network.Forward(input)
//	loss, _ := network.Backward(target)
//	opt.Step(network, 0.01)
//
// The recurrent state survives across Forward calls, so one network models one
// continuous sequence. Train independent sequences on independent networks.
package nn
