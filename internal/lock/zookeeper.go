// internal/lock/zookeeper.go
package lock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"

	"flashmart/internal/pkg/metrics"
)

const lockRoot = "/flashmart_locks" // 所有分布式锁的根节点

// ZooKeeperLockService 使用临时顺序节点实现键级互斥锁。
// 会话断开时节点自动删除，等价于租约到期释放。
type ZooKeeperLockService struct {
	conn        *zk.Conn
	waitTimeout time.Duration
}

func NewZooKeeperLockService(hosts []string, sessionTimeout, waitTimeout time.Duration) (*ZooKeeperLockService, error) {
	conn, _, err := zk.Connect(hosts, sessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect zookeeper: %w", err)
	}
	svc := &ZooKeeperLockService{conn: conn, waitTimeout: waitTimeout}
	if err := svc.ensurePath(lockRoot); err != nil {
		return nil, err
	}
	return svc, nil
}

func (s *ZooKeeperLockService) ensurePath(path string) error {
	exists, _, err := s.conn.Exists(path)
	if err != nil {
		return fmt.Errorf("check path %s: %w", path, err)
	}
	if exists {
		return nil
	}
	_, err = s.conn.Create(path, []byte(""), 0, zk.WorldACL(zk.PermAll))
	if err != nil && err != zk.ErrNodeExists {
		return fmt.Errorf("create path %s: %w", path, err)
	}
	return nil
}

// Acquire 在锁路径下创建临时顺序节点，并等待成为最小节点。
func (s *ZooKeeperLockService) Acquire(ctx context.Context, key string) (Lock, error) {
	start := time.Now()
	// ZooKeeper 节点名不允许 ":"，锁键统一转义
	path := lockRoot + "/" + strings.ReplaceAll(key, ":", "-")
	if err := s.ensurePath(path); err != nil {
		return nil, err
	}

	nodePath, err := s.conn.CreateProtectedEphemeralSequential(path+"/lock-", []byte(""), zk.WorldACL(zk.PermAll))
	if err != nil {
		return nil, fmt.Errorf("create sequential node: %w", err)
	}

	deadline := time.Now().Add(s.waitTimeout)
	for {
		children, _, err := s.conn.Children(path)
		if err != nil {
			s.conn.Delete(nodePath, -1)
			return nil, fmt.Errorf("get children nodes: %w", err)
		}
		sort.Strings(children)

		myNode := strings.TrimPrefix(nodePath, path+"/")
		if myNode == children[0] {
			metrics.LockWaitSeconds.WithLabelValues("zookeeper").Observe(time.Since(start).Seconds())
			return &zkLock{conn: s.conn, node: nodePath, key: key}, nil
		}

		// 监听前一个节点，被删除时重新竞争
		prevIndex := -1
		for i, child := range children {
			if child == myNode {
				prevIndex = i - 1
				break
			}
		}
		if prevIndex < 0 {
			s.conn.Delete(nodePath, -1)
			return nil, fmt.Errorf("cannot find previous node for %s", myNode)
		}
		prevPath := path + "/" + children[prevIndex]

		exists, _, eventChan, err := s.conn.ExistsW(prevPath)
		if err != nil {
			if err == zk.ErrNoNode {
				continue
			}
			s.conn.Delete(nodePath, -1)
			return nil, fmt.Errorf("watch previous node: %w", err)
		}
		if !exists {
			continue
		}

		select {
		case event := <-eventChan:
			if event.Type == zk.EventNodeDeleted {
				continue
			}
		case <-time.After(time.Until(deadline)):
			s.conn.Delete(nodePath, -1)
			return nil, ErrTimeout
		case <-ctx.Done():
			s.conn.Delete(nodePath, -1)
			return nil, ctx.Err()
		}
	}
}

type zkLock struct {
	conn *zk.Conn
	node string
	key  string
}

func (l *zkLock) Key() string { return l.key }

func (l *zkLock) Release(_ context.Context) error {
	if l.node == "" {
		return nil
	}
	err := l.conn.Delete(l.node, -1)
	l.node = ""
	if err != nil && err != zk.ErrNoNode {
		return fmt.Errorf("delete lock node: %w", err)
	}
	return nil
}
