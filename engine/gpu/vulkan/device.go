package vulkan

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/relic-emu/relic/engine/containers"
	"github.com/relic-emu/relic/engine/core"
	"github.com/relic-emu/relic/engine/gpu"
)

// descriptorHandleStride keeps the handle ranges of distinct heaps disjoint
// so a raw handle value can always be traced back to its heap.
const descriptorHandleStride = 1 << 20

// bufferAddressAlignment is the alignment of the virtual address space the
// device hands out for buffers. Addresses are synthetic - they exist so the
// submission core can bind constant buffers by address the same way on every
// backend - and resolve back to a buffer plus offset at record time.
const bufferAddressAlignment = 1 << 16

type pendingSubmission struct {
	fence vk.Fence
	value uint64
}

type bufferRange struct {
	base   uint64
	size   uint64
	buffer *VulkanBuffer
}

// VulkanDevice implements the submission core's device contract on top of a
// single graphics queue. Completion is tracked with a ring of fences, one
// per in-flight submission, folded into a monotonic counter.
type VulkanDevice struct {
	context *VulkanContext
	debug   bool

	mu            sync.Mutex
	pending       *containers.Deque[pendingSubmission]
	freeFences    []vk.Fence
	lastCompleted uint64

	nextBufferAddress  uint64
	bufferRanges       []bufferRange
	nextDescriptorBase uint64
	heaps              []*VulkanDescriptorHeap
}

var _ gpu.Device = (*VulkanDevice)(nil)

// NewDevice initializes the Vulkan loader through GLFW, creates an instance
// and a headless logical device with one graphics queue. glfw.Init must have
// been called by the platform layer first.
func NewDevice(cfg *core.RendererConfig) (*VulkanDevice, error) {
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		err := fmt.Errorf("vulkan loader not available: GetInstanceProcAddress is nil")
		core.LogError(err.Error())
		return nil, err
	}
	vk.SetGetInstanceProcAddr(procAddr)

	if err := vk.Init(); err != nil {
		core.LogError("failed to initialize vk: %s", err)
		return nil, err
	}

	d := &VulkanDevice{
		context: &VulkanContext{
			Allocator: nil,
		},
		debug:             cfg != nil && cfg.EnableValidation,
		pending:           containers.NewDeque[pendingSubmission](8),
		nextBufferAddress: bufferAddressAlignment,
	}

	if err := d.createInstance(); err != nil {
		return nil, err
	}
	if err := d.selectPhysicalDevice(); err != nil {
		return nil, err
	}
	if err := d.createLogicalDevice(); err != nil {
		return nil, err
	}

	core.LogInfo("Vulkan device ready (graphics queue family %d)", d.context.GraphicsQueueIndex)
	return d, nil
}

func (d *VulkanDevice) createInstance() error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString("Relic"),
		PEngineName:        VulkanSafeString("Relic Engine"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	// No surface extensions: the command submission core renders off-screen
	// and resolves into guest memory, so the instance is headless.
	requiredExtensions := []string{}
	if runtime.GOOS == "darwin" {
		requiredExtensions = append(requiredExtensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
	}
	if d.debug {
		requiredExtensions = append(requiredExtensions, vk.ExtDebugReportExtensionName)
	}
	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(requiredExtensions)

	requiredLayers := []string{}
	if d.debug {
		core.LogInfo("Validation layers enabled. Enumerating...")
		layerName := "VK_LAYER_KHRONOS_validation"
		var availableCount uint32
		if res := vk.EnumerateInstanceLayerProperties(&availableCount, nil); res != vk.Success {
			err := fmt.Errorf("vkEnumerateInstanceLayerProperties failed with %s", VulkanResultString(res))
			core.LogError(err.Error())
			return err
		}
		available := make([]vk.LayerProperties, availableCount)
		if res := vk.EnumerateInstanceLayerProperties(&availableCount, available); res != vk.Success {
			err := fmt.Errorf("vkEnumerateInstanceLayerProperties failed with %s", VulkanResultString(res))
			core.LogError(err.Error())
			return err
		}
		found := false
		for i := range available {
			available[i].Deref()
			if string(available[i].LayerName[:len(layerName)]) == layerName {
				found = true
				break
			}
		}
		if found {
			requiredLayers = append(requiredLayers, layerName)
		} else {
			core.LogWarn("validation layer %s is missing, continuing without it", layerName)
		}
	}
	createInfo.EnabledLayerCount = uint32(len(requiredLayers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(requiredLayers)

	var instance vk.Instance
	if res := vk.CreateInstance(&createInfo, d.context.Allocator, &instance); res != vk.Success {
		err := fmt.Errorf("vkCreateInstance failed with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}
	d.context.Instance = instance

	if err := vk.InitInstance(instance); err != nil {
		core.LogError("failed to initialize instance proc addresses: %s", err)
		return err
	}
	return nil
}

func (d *VulkanDevice) selectPhysicalDevice() error {
	var physicalDeviceCount uint32
	if res := vk.EnumeratePhysicalDevices(d.context.Instance, &physicalDeviceCount, nil); res != vk.Success {
		err := fmt.Errorf("vkEnumeratePhysicalDevices failed with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}
	if physicalDeviceCount == 0 {
		err := fmt.Errorf("no devices which support Vulkan were found")
		core.LogError(err.Error())
		return err
	}
	physicalDevices := make([]vk.PhysicalDevice, physicalDeviceCount)
	if res := vk.EnumeratePhysicalDevices(d.context.Instance, &physicalDeviceCount, physicalDevices); res != vk.Success {
		err := fmt.Errorf("vkEnumeratePhysicalDevices failed with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}

	var fallback vk.PhysicalDevice
	var fallbackQueue uint32
	for _, pd := range physicalDevices {
		queueIndex, ok := findGraphicsQueueFamily(pd)
		if !ok {
			continue
		}

		var properties vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(pd, &properties)
		properties.Deref()

		if properties.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu {
			d.context.PhysicalDevice = pd
			d.context.GraphicsQueueIndex = queueIndex
			core.LogInfo("Selected discrete GPU: %s", string(properties.DeviceName[:]))
			return nil
		}
		if fallback == nil {
			fallback = pd
			fallbackQueue = queueIndex
		}
	}

	if fallback == nil {
		err := fmt.Errorf("no physical device with a graphics queue was found")
		core.LogError(err.Error())
		return err
	}
	d.context.PhysicalDevice = fallback
	d.context.GraphicsQueueIndex = fallbackQueue
	core.LogInfo("No discrete GPU found, using first graphics-capable device.")
	return nil
}

func findGraphicsQueueFamily(pd vk.PhysicalDevice) (uint32, bool) {
	var familyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &familyCount, nil)
	families := make([]vk.QueueFamilyProperties, familyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &familyCount, families)
	for i := uint32(0); i < familyCount; i++ {
		families[i].Deref()
		if families[i].QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
			return i, true
		}
	}
	return 0, false
}

func (d *VulkanDevice) createLogicalDevice() error {
	core.LogInfo("Creating logical device...")

	queueCreateInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: d.context.GraphicsQueueIndex,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}}

	// VK_KHR_portability_subset must be enabled whenever the driver reports
	// it.
	extensionNames := []string{}
	var availableExtensionCount uint32
	if res := vk.EnumerateDeviceExtensionProperties(d.context.PhysicalDevice, "", &availableExtensionCount, nil); res != vk.Success {
		err := fmt.Errorf("vkEnumerateDeviceExtensionProperties failed with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}
	if availableExtensionCount != 0 {
		availableExtensions := make([]vk.ExtensionProperties, availableExtensionCount)
		if res := vk.EnumerateDeviceExtensionProperties(d.context.PhysicalDevice, "", &availableExtensionCount, availableExtensions); res != vk.Success {
			err := fmt.Errorf("vkEnumerateDeviceExtensionProperties failed with %s", VulkanResultString(res))
			core.LogError(err.Error())
			return err
		}
		portability := "VK_KHR_portability_subset"
		for i := range availableExtensions {
			availableExtensions[i].Deref()
			if string(availableExtensions[i].ExtensionName[:len(portability)]) == portability {
				core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
				extensionNames = append(extensionNames, portability)
				break
			}
		}
	}

	deviceFeatures := vk.PhysicalDeviceFeatures{}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{deviceFeatures},
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
	}

	if res := vk.CreateDevice(
		d.context.PhysicalDevice,
		&deviceCreateInfo,
		d.context.Allocator,
		&d.context.LogicalDevice); res != vk.Success {
		err := fmt.Errorf("vkCreateDevice failed with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}
	core.LogInfo("Logical device created.")

	vk.GetDeviceQueue(
		d.context.LogicalDevice,
		d.context.GraphicsQueueIndex,
		0,
		&d.context.GraphicsQueue)

	return nil
}

func (d *VulkanDevice) CreateCommandAllocator() (gpu.CommandAllocator, error) {
	return NewVulkanCommandAllocator(d)
}

func (d *VulkanDevice) CreateCommandRecorder() (gpu.CommandRecorder, error) {
	return NewVulkanCommandRecorder(d), nil
}

func (d *VulkanDevice) CreateDescriptorHeap(kind gpu.DescriptorHeapKind, capacity uint32) (gpu.DescriptorHeap, error) {
	d.mu.Lock()
	base := d.nextDescriptorBase
	d.nextDescriptorBase += descriptorHandleStride
	d.mu.Unlock()

	if uint64(capacity) > descriptorHandleStride {
		err := fmt.Errorf("descriptor heap capacity %d exceeds the handle stride", capacity)
		core.LogError(err.Error())
		return nil, err
	}

	heap := &VulkanDescriptorHeap{
		device:   d,
		kind:     kind,
		base:     base,
		capacity: capacity,
		records:  make([]descriptorRecord, capacity),
	}
	d.mu.Lock()
	d.heaps = append(d.heaps, heap)
	d.mu.Unlock()
	return heap, nil
}

func (d *VulkanDevice) CreateRootSignature(desc gpu.RootSignatureDesc) (gpu.RootSignature, error) {
	return NewVulkanRootSignature(d, desc)
}

func (d *VulkanDevice) Submit(recorder gpu.CommandRecorder, signalValue uint64) error {
	rec, ok := recorder.(*VulkanCommandRecorder)
	if !ok {
		err := fmt.Errorf("recorder was not created by this device")
		core.LogError(err.Error())
		return err
	}

	fence, err := d.acquireFence()
	if err != nil {
		return err
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{rec.handle},
	}
	if res := vk.QueueSubmit(d.context.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, fence); res != vk.Success {
		d.mu.Lock()
		d.freeFences = append(d.freeFences, fence)
		d.mu.Unlock()
		core.LogError("vkQueueSubmit failed with %s", VulkanResultString(res))
		if res == vk.ErrorDeviceLost {
			return gpu.ErrDeviceRemoved
		}
		return fmt.Errorf("vkQueueSubmit failed with %s", VulkanResultString(res))
	}

	d.mu.Lock()
	d.pending.PushBack(pendingSubmission{fence: fence, value: signalValue})
	d.mu.Unlock()
	return nil
}

func (d *VulkanDevice) acquireFence() (vk.Fence, error) {
	d.mu.Lock()
	if n := len(d.freeFences); n > 0 {
		fence := d.freeFences[n-1]
		d.freeFences = d.freeFences[:n-1]
		d.mu.Unlock()
		if res := vk.ResetFences(d.context.LogicalDevice, 1, []vk.Fence{fence}); res != vk.Success {
			err := fmt.Errorf("vkResetFences failed with %s", VulkanResultString(res))
			core.LogError(err.Error())
			return nil, err
		}
		return fence, nil
	}
	d.mu.Unlock()

	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	var fence vk.Fence
	if res := vk.CreateFence(d.context.LogicalDevice, &fenceCreateInfo, d.context.Allocator, &fence); res != vk.Success {
		err := fmt.Errorf("vkCreateFence failed with %s", VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}
	return fence, nil
}

func (d *VulkanDevice) CompletedValue() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	for !d.pending.IsEmpty() {
		front, _ := d.pending.PeekFront()
		if vk.GetFenceStatus(d.context.LogicalDevice, front.fence) != vk.Success {
			break
		}
		d.retireFrontLocked()
	}
	return d.lastCompleted
}

func (d *VulkanDevice) AwaitValue(value uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.lastCompleted < value && !d.pending.IsEmpty() {
		front, _ := d.pending.PeekFront()
		result := vk.WaitForFences(d.context.LogicalDevice, 1, []vk.Fence{front.fence}, vk.True, ^uint64(0))
		if result != vk.Success {
			core.LogError("vkWaitForFences failed with %s", VulkanResultString(result))
			return
		}
		d.retireFrontLocked()
	}
}

// retireFrontLocked pops the front pending submission, recycles its fence
// and folds its value into the completion counter. d.mu must be held.
func (d *VulkanDevice) retireFrontLocked() {
	front, _ := d.pending.PopFront()
	if front.value > d.lastCompleted {
		d.lastCompleted = front.value
	}
	d.freeFences = append(d.freeFences, front.fence)
}

func (d *VulkanDevice) registerBufferRange(buffer *VulkanBuffer, size uint64) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	base := d.nextBufferAddress
	span := (size + bufferAddressAlignment - 1) &^ uint64(bufferAddressAlignment-1)
	d.nextBufferAddress += span + bufferAddressAlignment
	d.bufferRanges = append(d.bufferRanges, bufferRange{base: base, size: size, buffer: buffer})
	return base
}

func (d *VulkanDevice) unregisterBufferRange(base uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.bufferRanges {
		if d.bufferRanges[i].base == base {
			d.bufferRanges = append(d.bufferRanges[:i], d.bufferRanges[i+1:]...)
			return
		}
	}
}

// resolveAddress maps a device virtual address back to the buffer containing
// it and the offset within that buffer.
func (d *VulkanDevice) resolveAddress(address uint64) (*VulkanBuffer, uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.bufferRanges {
		r := &d.bufferRanges[i]
		if address >= r.base && address < r.base+r.size {
			return r.buffer, address - r.base, nil
		}
	}
	return nil, 0, fmt.Errorf("address %#x does not belong to any live buffer", address)
}

func (d *VulkanDevice) resolveHeapSlot(handle uint64) (*VulkanDescriptorHeap, uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, heap := range d.heaps {
		if handle >= heap.base && handle < heap.base+uint64(heap.capacity) {
			return heap, uint32(handle - heap.base), nil
		}
	}
	return nil, 0, fmt.Errorf("descriptor handle %#x does not belong to any live heap", handle)
}

func (d *VulkanDevice) unregisterHeap(heap *VulkanDescriptorHeap) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.heaps {
		if d.heaps[i] == heap {
			d.heaps = append(d.heaps[:i], d.heaps[i+1:]...)
			return
		}
	}
}

func (d *VulkanDevice) Destroy() {
	if d.context.LogicalDevice != nil {
		vk.DeviceWaitIdle(d.context.LogicalDevice)
	}

	d.mu.Lock()
	for !d.pending.IsEmpty() {
		front, _ := d.pending.PopFront()
		vk.DestroyFence(d.context.LogicalDevice, front.fence, d.context.Allocator)
	}
	for _, fence := range d.freeFences {
		vk.DestroyFence(d.context.LogicalDevice, fence, d.context.Allocator)
	}
	d.freeFences = nil
	d.mu.Unlock()

	if d.context.LogicalDevice != nil {
		vk.DestroyDevice(d.context.LogicalDevice, d.context.Allocator)
		d.context.LogicalDevice = nil
	}
	if d.context.Instance != nil {
		vk.DestroyInstance(d.context.Instance, d.context.Allocator)
		d.context.Instance = nil
	}
}
