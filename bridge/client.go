// 与外部仿真引擎（SUMO桥接进程）通信的客户端
// 协议：unix或tcp连接上的请求-应答，每帧为4字节大端长度加msgpack报文，
// 请求为{"endpoint": 名称, "params": {...}}，应答为{"ok": bool, "error": string, "result": ...}
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/config"
	"github.com/tsinghua-fib-lab/agentsociety-signal/utils/randengine"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrClosed = errors.New("bridge closed")
	ErrRemote = errors.New("bridge remote error")
)

const maxBackoff = 10 * time.Second

type request struct {
	Endpoint string         `msgpack:"endpoint"`
	Params   map[string]any `msgpack:"params,omitempty"`
}

type response struct {
	OK     bool               `msgpack:"ok"`
	Error  string             `msgpack:"error"`
	Result msgpack.RawMessage `msgpack:"result"`
}

// DialFunc 建立到桥接进程的连接
type DialFunc func(ctx context.Context) (net.Conn, error)

// Client 桥接客户端
// 说明：调用串行执行；传输错误会关闭连接，下一次调用时重新建立连接（有限次重试，带随机抖动的指数退避）
type Client struct {
	c    config.Bridge
	dial DialFunc
	rng  *randengine.Engine
	ctx  context.Context

	mtx    sync.Mutex
	conn   net.Conn
	closed bool
}

// New 按配置创建客户端，不立即建立连接
func New(ctx context.Context, c config.Bridge) *Client {
	dialer := &net.Dialer{Timeout: seconds(c.DialTimeout)}
	return NewWithDialer(ctx, c, func(ctx context.Context) (net.Conn, error) {
		return dialer.DialContext(ctx, c.Network, c.Address)
	})
}

// NewWithDialer 使用自定义的连接方式创建客户端
func NewWithDialer(ctx context.Context, c config.Bridge, dial DialFunc) *Client {
	return &Client{
		c:    c,
		dial: dial,
		rng:  randengine.New(c.Seed),
		ctx:  ctx,
	}
}

// Connect 建立连接
func (cl *Client) Connect() error {
	cl.mtx.Lock()
	defer cl.mtx.Unlock()
	if cl.closed {
		return ErrClosed
	}
	return cl.ensure()
}

func (cl *Client) ensure() error {
	if cl.conn != nil {
		return nil
	}
	var err error
	for attempt := 0; ; attempt++ {
		var conn net.Conn
		if conn, err = cl.dial(cl.ctx); err == nil {
			log.Infof("connected to %s %s", cl.c.Network, cl.c.Address)
			cl.conn = conn
			return nil
		}
		if attempt >= cl.c.MaxRetries {
			break
		}
		wait := cl.backoff(attempt)
		log.Warnf("failed to connect to %s %s: %v, retrying in %v", cl.c.Network, cl.c.Address, err, wait)
		select {
		case <-cl.ctx.Done():
			return cl.ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("dial %s %s: %w", cl.c.Network, cl.c.Address, err)
}

// backoff 第attempt次重试前的等待时间，退避上限10秒，乘以[0.5,1.5)的随机因子
func (cl *Client) backoff(attempt int) time.Duration {
	d := seconds(cl.c.RetryBackoff) << min(attempt, 6)
	d = min(d, maxBackoff)
	return time.Duration(float64(d) * cl.rng.UniformSafe(0.5, 1.5))
}

func (cl *Client) drop() {
	if cl.conn != nil {
		_ = cl.conn.Close()
		cl.conn = nil
	}
}

// Call 调用一个端点
// 参数：endpoint-端点名称，params-参数（可为nil），out-结果的解码目标（可为nil）
// 返回：传输错误、解码错误，或包装了ErrRemote的远端错误
func (cl *Client) Call(endpoint string, params map[string]any, out any) error {
	cl.mtx.Lock()
	defer cl.mtx.Unlock()
	if cl.closed {
		return ErrClosed
	}
	return cl.call(endpoint, params, out)
}

func (cl *Client) call(endpoint string, params map[string]any, out any) error {
	if err := cl.ensure(); err != nil {
		return err
	}
	payload, err := msgpack.Marshal(&request{Endpoint: endpoint, Params: params})
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", endpoint, err)
	}
	if cl.c.CallTimeout > 0 {
		_ = cl.conn.SetDeadline(time.Now().Add(seconds(cl.c.CallTimeout)))
	}
	if err := writeFrame(cl.conn, payload); err != nil {
		cl.drop()
		return fmt.Errorf("%s: send: %w", endpoint, err)
	}
	body, err := readFrame(cl.conn)
	if err != nil {
		cl.drop()
		return fmt.Errorf("%s: receive: %w", endpoint, err)
	}
	var resp response
	if err := msgpack.Unmarshal(body, &resp); err != nil {
		// 应答边界已读完，连接仍可用
		return fmt.Errorf("%s: decode response: %w", endpoint, err)
	}
	if !resp.OK {
		return fmt.Errorf("%w: %s: %s", ErrRemote, endpoint, resp.Error)
	}
	if out != nil && len(resp.Result) > 0 {
		if err := msgpack.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", endpoint, err)
		}
	}
	return nil
}

// Close 通知桥接进程结束仿真并关闭连接
func (cl *Client) Close() error {
	cl.mtx.Lock()
	defer cl.mtx.Unlock()
	if cl.closed {
		return nil
	}
	cl.closed = true
	if cl.conn == nil {
		return nil
	}
	err := cl.call("stop", nil, nil)
	cl.drop()
	if err != nil {
		log.Warnf("stop failed: %v", err)
	}
	return err
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
