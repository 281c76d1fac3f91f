package client

import "time"

// Stopper 可取消的定时任务
type Stopper interface {
	Stop() bool
}

// Scheduler 定时任务调度，便于测试替换
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Stopper
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

// RealScheduler 基于 time.AfterFunc 的调度器
var RealScheduler Scheduler = realScheduler{}
