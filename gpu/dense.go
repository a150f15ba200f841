package gpu

import (
	"fmt"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
	"github.com/pkg/errors"

	"github.com/openfluke/tutor/nn"
)

const workgroupSize = 256

// activationCode maps a dense activation to the WGSL body of activate().
// Softmax normalizes across a row, so the shader leaves it linear and the
// projector applies it on the CPU after readback.
func activationCode(act nn.ActivationType) string {
	switch act {
	case nn.ActivationSigmoid:
		return "return 1.0 / (1.0 + exp(-x));"
	case nn.ActivationTanh:
		return "return tanh(x);"
	case nn.ActivationReLU:
		return "return max(x, 0.0);"
	}
	return "return x;"
}

// denseShader generates WGSL computing act(W·x + b) for a batch, one
// invocation per (sample, output) pair. Weights are row-major [out][in].
func denseShader(inputs, outputs int, act nn.ActivationType) string {
	return fmt.Sprintf(`
		@group(0) @binding(0) var<storage, read> input : array<f32>;
		@group(0) @binding(1) var<storage, read_write> output : array<f32>;
		@group(0) @binding(2) var<storage, read> weights : array<f32>;
		@group(0) @binding(3) var<storage, read> biases : array<f32>;

		fn activate(x: f32) -> f32 {
			%s
		}

		@compute @workgroup_size(%d)
		fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
			let idx = gid.x;
			let n_out = %du;
			let n_in = %du;

			if (idx >= arrayLength(&output)) {
				return;
			}

			let sample_idx = idx / n_out;
			let out_idx = idx %% n_out;

			var sum: f32 = biases[out_idx];
			let weight_offset = out_idx * n_in;
			let input_offset = sample_idx * n_in;

			for (var i: u32 = 0u; i < n_in; i++) {
				sum += weights[weight_offset + i] * input[input_offset + i];
			}

			output[idx] = activate(sum);
		}
	`, activationCode(act), workgroupSize, outputs, inputs)
}

// kernelKey identifies a compiled kernel. Weights are uploaded on every call,
// so only the shapes and activation matter.
type kernelKey struct {
	inputs, outputs int
	activation      nn.ActivationType
	batch           int
}

// denseKernel holds the pipeline and buffers for one dense shape and batch size.
type denseKernel struct {
	key kernelKey

	pipeline        *wgpu.ComputePipeline
	bindGroupLayout *wgpu.BindGroupLayout
	bindGroup       *wgpu.BindGroup

	inputBuffer   *wgpu.Buffer
	outputBuffer  *wgpu.Buffer
	stagingBuffer *wgpu.Buffer
	weightBuffer  *wgpu.Buffer
	biasBuffer    *wgpu.Buffer

	workgroupsX uint32
}

func newDenseKernel(c *Context, key kernelKey) (*denseKernel, error) {
	k := &denseKernel{key: key}
	label := fmt.Sprintf("Dense%dx%d_b%d", key.outputs, key.inputs, key.batch)
	if Debug {
		Log("building kernel %s", label)
	}
	if err := k.allocate(c, label); err != nil {
		k.release()
		return nil, err
	}
	if err := k.compile(c, label); err != nil {
		k.release()
		return nil, err
	}
	return k, nil
}

func (k *denseKernel) allocate(c *Context, label string) error {
	storage := wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc
	var err error

	sizes := []struct {
		buf   **wgpu.Buffer
		name  string
		n     int
		usage wgpu.BufferUsage
	}{
		{&k.inputBuffer, "_In", k.key.inputs * k.key.batch, storage},
		{&k.outputBuffer, "_Out", k.key.outputs * k.key.batch, storage},
		{&k.weightBuffer, "_W", k.key.inputs * k.key.outputs, storage},
		{&k.biasBuffer, "_B", k.key.outputs, storage},
		{&k.stagingBuffer, "_Staging", k.key.outputs * k.key.batch, wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst},
	}
	for _, s := range sizes {
		*s.buf, err = c.Device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: label + s.name,
			Size:  uint64(s.n * 4),
			Usage: s.usage,
		})
		if err != nil {
			return errors.Wrapf(err, "create buffer %s%s", label, s.name)
		}
	}
	return nil
}

func (k *denseKernel) compile(c *Context, label string) error {
	module, err := c.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          label + "_Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: denseShader(k.key.inputs, k.key.outputs, k.key.activation)},
	})
	if err != nil {
		return errors.Wrap(err, "shader compile")
	}
	defer module.Release()

	// Explicit layout; "auto" layouts are unreliable under WASM
	k.bindGroupLayout, err = c.Device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: label + "_BGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{Binding: 0, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}},
			{Binding: 1, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage}},
			{Binding: 2, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}},
			{Binding: 3, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}},
		},
	})
	if err != nil {
		return errors.Wrap(err, "create bind group layout")
	}

	pipelineLayout, err := c.Device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            label + "_Layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{k.bindGroupLayout},
	})
	if err != nil {
		return errors.Wrap(err, "create pipeline layout")
	}
	defer pipelineLayout.Release()

	k.pipeline, err = c.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  label + "_Pipe",
		Layout: pipelineLayout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		return errors.Wrap(err, "create pipeline")
	}

	k.bindGroup, err = c.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  label + "_Bind",
		Layout: k.bindGroupLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: k.inputBuffer, Size: k.inputBuffer.GetSize()},
			{Binding: 1, Buffer: k.outputBuffer, Size: k.outputBuffer.GetSize()},
			{Binding: 2, Buffer: k.weightBuffer, Size: k.weightBuffer.GetSize()},
			{Binding: 3, Buffer: k.biasBuffer, Size: k.biasBuffer.GetSize()},
		},
	})
	if err != nil {
		return errors.Wrap(err, "create bind group")
	}

	total := uint32(k.key.outputs * k.key.batch)
	k.workgroupsX = (total + workgroupSize - 1) / workgroupSize
	return nil
}

// run uploads weights and inputs, dispatches once and reads back the output.
func (k *denseKernel) run(c *Context, layer *nn.DenseLayer, input []float32) ([]float32, error) {
	c.Queue.WriteBuffer(k.weightBuffer, 0, wgpu.ToBytes(toFloat32(layer.Weights)))
	c.Queue.WriteBuffer(k.biasBuffer, 0, wgpu.ToBytes(toFloat32(layer.Bias)))
	c.Queue.WriteBuffer(k.inputBuffer, 0, wgpu.ToBytes(input))

	enc, err := c.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, errors.Wrap(err, "create command encoder")
	}
	if Debug {
		Log("dispatching %d workgroups", k.workgroupsX)
	}
	pass := enc.BeginComputePass(nil)
	pass.SetPipeline(k.pipeline)
	pass.SetBindGroup(0, k.bindGroup, nil)
	pass.DispatchWorkgroups(k.workgroupsX, 1, 1)
	pass.End()
	enc.CopyBufferToBuffer(k.outputBuffer, 0, k.stagingBuffer, 0, k.outputBuffer.GetSize())

	cmd, err := enc.Finish(nil)
	if err != nil {
		return nil, errors.Wrap(err, "finish command")
	}
	c.Queue.Submit(cmd)

	return mapRead(c, k.stagingBuffer, k.key.outputs*k.key.batch)
}

func (k *denseKernel) release() {
	for _, b := range []**wgpu.Buffer{&k.inputBuffer, &k.outputBuffer, &k.stagingBuffer, &k.weightBuffer, &k.biasBuffer} {
		if *b != nil {
			(*b).Destroy()
			*b = nil
		}
	}
	if k.bindGroup != nil {
		k.bindGroup.Release()
		k.bindGroup = nil
	}
	if k.pipeline != nil {
		k.pipeline.Release()
		k.pipeline = nil
	}
	if k.bindGroupLayout != nil {
		k.bindGroupLayout.Release()
		k.bindGroupLayout = nil
	}
}

// DenseProjector computes the dense stage for a batch of inputs on the GPU.
// It implements nn.Projector. Results are computed in float32, so they match
// the CPU path to single precision only.
type DenseProjector struct {
	mu      sync.Mutex
	kernels map[kernelKey]*denseKernel
}

// NewDenseProjector opens the GPU context and returns a projector. It fails
// with ErrUnavailable when there is no usable adapter.
func NewDenseProjector() (*DenseProjector, error) {
	if err := EnsureGPU(); err != nil {
		return nil, err
	}
	return &DenseProjector{kernels: make(map[kernelKey]*denseKernel)}, nil
}

// ProjectDense returns layer's activations for every input.
func (p *DenseProjector) ProjectDense(layer *nn.DenseLayer, inputs [][]float64) ([][]float64, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	for i, in := range inputs {
		if len(in) != layer.NumInputs {
			return nil, errors.Wrapf(nn.ErrSizeMismatch, "batch item %d: got %d inputs, expected %d", i, len(in), layer.NumInputs)
		}
	}

	c, err := GetContext()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := kernelKey{
		inputs:     layer.NumInputs,
		outputs:    layer.NumOutputs,
		activation: layer.Activation,
		batch:      len(inputs),
	}
	k, ok := p.kernels[key]
	if !ok {
		k, err = newDenseKernel(c, key)
		if err != nil {
			return nil, err
		}
		p.kernels[key] = k
	}

	raw, err := k.run(c, layer, flatten(inputs, layer.NumInputs))
	if err != nil {
		return nil, err
	}

	out := make([][]float64, len(inputs))
	for i := range out {
		row := make([]float64, layer.NumOutputs)
		for j := range row {
			row[j] = float64(raw[i*layer.NumOutputs+j])
		}
		if layer.Activation == nn.ActivationSoftmax {
			row = nn.Softmax(row)
		}
		out[i] = row
	}
	return out, nil
}

// Close releases every cached kernel.
func (p *DenseProjector) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, k := range p.kernels {
		k.release()
		delete(p.kernels, key)
	}
}
