package camera

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// V4L2 ioctl request codes and pixel format fourccs, from
// <linux/videodev2.h>. Kept local rather than imported since no ready-made
// V4L2 binding is available; golang.org/x/sys/unix supplies the raw
// ioctl/mmap primitives directly.
const (
	vidiocQueryCap   = 0x80685600
	vidiocSFmt       = 0xc0d05605
	vidiocReqBufs    = 0xc0145608
	vidiocQueryBuf   = 0xc0585609
	vidiocQBuf       = 0xc058560f
	vidiocDQBuf      = 0xc0585611
	vidiocStreamOn   = 0x40045612
	vidiocStreamOff  = 0x40045613

	v4l2BufTypeVideoCapture = 1
	v4l2MemoryMmap          = 1
	v4l2PixFmtRGB24         = 0x33424752 // 'RGB3'

	v4l2ReqBufCount = 4
)

// v4l2Format mirrors struct v4l2_format's video-capture branch
// (v4l2_pix_format embedded at the same offset as the union's first
// member), padded out to the union's full size.
type v4l2Format struct {
	Type        uint32
	_           uint32 // the fmt union is 8-byte aligned on 64-bit
	Width       uint32
	Height      uint32
	PixelFormat uint32
	Field       uint32
	BytesPerLine uint32
	SizeImage   uint32
	Colorspace  uint32
	_           [43]uint32 // remainder of the 200-byte fmt union
}

// v4l2RequestBuffers mirrors struct v4l2_requestbuffers.
type v4l2RequestBuffers struct {
	Count        uint32
	Type         uint32
	Memory       uint32
	Capabilities uint32
	_            [1]uint32
}

// v4l2Buffer mirrors struct v4l2_buffer's mmap branch.
type v4l2Buffer struct {
	Index     uint32
	Type      uint32
	BytesUsed uint32
	Flags     uint32
	Field     uint32
	Timestamp [2]int64
	Timecode  [4]uint32
	Sequence  uint32
	Memory    uint32
	Offset    uint32
	_         uint32 // rest of the 8-byte m union
	Length    uint32
	_         [3]uint32
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// v4l2Device drives a single V4L2 capture device through the classic
// request-buffers/mmap/queue-dequeue loop, producing packed RGB24
// frames. It expects the driver to support V4L2_PIX_FMT_RGB24 directly;
// devices that only offer YUYV or MJPEG need a userspace conversion
// path this package does not implement.
type v4l2Device struct {
	fd      int
	width   int
	height  int
	buffers [][]byte
}

// OpenV4L2 is a camera.OpenFunc backed by a real V4L2 capture device.
func OpenV4L2(deviceID string, width, height, fps int) (Device, error) {
	fd, err := unix.Open(deviceID, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", deviceID, err)
	}

	d := &v4l2Device{fd: fd, width: width, height: height}
	if err := d.setFormat(); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := d.requestBuffers(); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := d.streamOn(); err != nil {
		d.munmapAll()
		unix.Close(fd)
		return nil, err
	}
	return d, nil
}

func (d *v4l2Device) setFormat() error {
	f := v4l2Format{
		Type:        v4l2BufTypeVideoCapture,
		Width:       uint32(d.width),
		Height:      uint32(d.height),
		PixelFormat: v4l2PixFmtRGB24,
		Field:       1, // V4L2_FIELD_NONE
	}
	if err := ioctl(d.fd, vidiocSFmt, unsafe.Pointer(&f)); err != nil {
		return fmt.Errorf("VIDIOC_S_FMT: %w", err)
	}
	return nil
}

func (d *v4l2Device) requestBuffers() error {
	req := v4l2RequestBuffers{Count: v4l2ReqBufCount, Type: v4l2BufTypeVideoCapture, Memory: v4l2MemoryMmap}
	if err := ioctl(d.fd, vidiocReqBufs, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("VIDIOC_REQBUFS: %w", err)
	}

	d.buffers = make([][]byte, req.Count)
	for i := uint32(0); i < req.Count; i++ {
		buf := v4l2Buffer{Type: v4l2BufTypeVideoCapture, Memory: v4l2MemoryMmap, Index: i}
		if err := ioctl(d.fd, vidiocQueryBuf, unsafe.Pointer(&buf)); err != nil {
			return fmt.Errorf("VIDIOC_QUERYBUF: %w", err)
		}
		mem, err := unix.Mmap(d.fd, int64(buf.Offset), int(buf.Length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			return fmt.Errorf("mmap buffer %d: %w", i, err)
		}
		d.buffers[i] = mem
		if err := ioctl(d.fd, vidiocQBuf, unsafe.Pointer(&buf)); err != nil {
			return fmt.Errorf("VIDIOC_QBUF: %w", err)
		}
	}
	return nil
}

func (d *v4l2Device) streamOn() error {
	t := uint32(v4l2BufTypeVideoCapture)
	if err := ioctl(d.fd, vidiocStreamOn, unsafe.Pointer(&t)); err != nil {
		return fmt.Errorf("VIDIOC_STREAMON: %w", err)
	}
	return nil
}

// Read dequeues the next filled buffer, copies its RGB24 pixels out
// (the mmap'd region is reused once requeued, so callers must not hold
// onto it), and requeues the buffer for the driver.
func (d *v4l2Device) Read() ([]byte, int, int, error) {
	buf := v4l2Buffer{Type: v4l2BufTypeVideoCapture, Memory: v4l2MemoryMmap}
	if err := ioctl(d.fd, vidiocDQBuf, unsafe.Pointer(&buf)); err != nil {
		return nil, 0, 0, fmt.Errorf("VIDIOC_DQBUF: %w", err)
	}

	src := d.buffers[buf.Index][:buf.BytesUsed]
	out := make([]byte, len(src))
	copy(out, src)

	if err := ioctl(d.fd, vidiocQBuf, unsafe.Pointer(&buf)); err != nil {
		return nil, 0, 0, fmt.Errorf("VIDIOC_QBUF: %w", err)
	}
	return out, d.width, d.height, nil
}

func (d *v4l2Device) munmapAll() {
	for _, b := range d.buffers {
		if b != nil {
			unix.Munmap(b)
		}
	}
}

func (d *v4l2Device) Close() error {
	t := uint32(v4l2BufTypeVideoCapture)
	ioctl(d.fd, vidiocStreamOff, unsafe.Pointer(&t))
	d.munmapAll()
	return unix.Close(d.fd)
}

